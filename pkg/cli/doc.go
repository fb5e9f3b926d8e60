/*
Package cli provides command-line helpers shared by the gatekeeper
commands: output formatting, exit-code mapping and signal handling.

Output Formatting:

Results render as text, JSON or CSV. Values implementing Tabular are shown
as aligned columns in text mode and as rows in CSV mode; JSON always
encodes the value itself:

	format, err := cli.ParseFormat(flagValue)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(os.Stdout, result)

Exit Codes:

Commands return an *ExitError to pick a specific exit code. The decide
command uses ExitEngineFailure after printing its fail-safe response:

	return &cli.ExitError{Code: cli.ExitEngineFailure, Err: err, Silent: true}

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
