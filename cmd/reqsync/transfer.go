package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mamadbah2/reqsync/internal/domain/models"
	"github.com/mamadbah2/reqsync/internal/service/transfer"
)

// TransferCmd returns the one-shot export, import and upload commands.
func TransferCmd() []*cli.Command {
	var transferCommands []*cli.Command

	exportCmd := &cli.Command{
		Name:  "export",
		Usage: "Download requisition files from the export directory and print their records.",
		Flags: exportFlags(),
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.app.Transfer.Export(c.Context, exportOptions(c, rt.app.Transfer))
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, map[string]any{
				"files":   result.Outcomes,
				"records": result.Records,
			})
		},
	}

	processCmd := &cli.Command{
		Name:  "process",
		Usage: "Export requisitions, stamp them as processed and write a local CSV without uploading it.",
		Flags: exportFlags(),
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			localPath, result, err := rt.app.Transfer.ProcessBatch(c.Context, exportOptions(c, rt.app.Transfer))
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, map[string]any{
				"files":   result.Outcomes,
				"records": len(result.Records),
				"output":  localPath,
			})
		},
	}

	importCmd := &cli.Command{
		Name:      "import",
		Usage:     "Serialize records and upload them to the import directory.",
		ArgsUsage: "RECORDS_FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Usage: "csv or xml (defaults to the configured format)"},
			&cli.StringFlag{Name: "name", Usage: "remote file name (defaults to a timestamped name)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("import expects exactly one records file", 2)
			}

			records, err := loadRecords(c.Args().First())
			if err != nil {
				return err
			}

			var format models.Format
			if c.IsSet("format") {
				if format, err = models.ParseFormat(c.String("format")); err != nil {
					return err
				}
			}

			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			_, localPath, err := rt.app.Transfer.Import(c.Context, records, format, c.String("name"))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "uploaded %d records as %s\n", len(records), localPath)
			return nil
		},
	}

	uploadCmd := &cli.Command{
		Name:      "upload",
		Usage:     "Upload existing local files to the import directory.",
		ArgsUsage: "FILE...",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("upload expects at least one file", 2)
			}

			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			if _, err := rt.app.Transfer.UploadFiles(c.Context, c.Args().Slice()); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "uploaded %d files\n", c.NArg())
			return nil
		},
	}

	transferCommands = append(transferCommands, exportCmd, processCmd, importCmd, uploadCmd)
	return transferCommands
}

func exportFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "pattern", Usage: "glob matched against remote file names (defaults to the configured filter)"},
		&cli.BoolFlag{Name: "delete", Usage: "delete each remote file once it is committed locally"},
		&cli.BoolFlag{Name: "strict", Usage: "report files with unsupported extensions as failures"},
	}
}

// exportOptions overlays command flags on the configured export options.
func exportOptions(c *cli.Context, svc *transfer.Service) transfer.ExportOptions {
	opts := svc.DefaultExportOptions()
	if c.IsSet("pattern") {
		opts.Pattern = c.String("pattern")
	}
	if c.IsSet("delete") {
		opts.DeleteRemote = c.Bool("delete")
	}
	if c.IsSet("strict") {
		opts.StrictExtensions = c.Bool("strict")
	}
	return opts
}
