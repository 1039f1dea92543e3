package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/vidnotes/internal"
	"github.com/starford/vidnotes/internal/merge"
	pkgconfig "github.com/starford/vidnotes/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOrDefault(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

// openQuiet opens the app for one-shot commands; logs go to stderr so
// stdout carries only command output.
func openQuiet(cmd *cli.Command) (*internal.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return internal.Open(internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
}

func exportBackup(ctx context.Context, cmd *cli.Command) error {
	app, err := openQuiet(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	data, err := json.MarshalIndent(app.Service.Export(ctx), "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	out := cmd.String("out")
	if out == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if out == "." {
		out = merge.BackupFileName(app.Service.Now())
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	fmt.Fprintln(os.Stderr, "exported to", out)
	return nil
}

func importBackup(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("usage: vidnotes import FILE (use - for stdin)")
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	app, err := openQuiet(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Service.Import(ctx, data)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d new notes (%d notes across %d videos)\n", res.Added, res.Notes, res.Videos)
	return nil
}

func listVideos(ctx context.Context, cmd *cli.Command) error {
	app, err := openQuiet(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	matches := app.Service.ListVideos(ctx, cmd.String("query"))
	if len(matches) == 0 {
		fmt.Println("no videos found")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VIDEO\tTITLE\tNOTES")
	for _, m := range matches {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Video.VideoID, m.Video.Title, m.Caption())
		if m.ForceExpanded {
			for _, n := range m.Notes {
				fmt.Fprintf(tw, "\t  %s\t%s\n", n.FormattedTimestamp, n.Text)
			}
		}
	}
	return tw.Flush()
}

func main() {
	cmd := &cli.Command{
		Name:   "vidnotes",
		Usage:  "Timestamped video notes with backup merge, REST and MCP access",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and event stream",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdio",
				Action: serveMCP,
			},
			{
				Name:  "export",
				Usage: "Write a backup document",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Output file; \".\" picks a timestamped name, empty writes to stdout",
					},
				},
				Action: exportBackup,
			},
			{
				Name:      "import",
				Usage:     "Merge a backup document into the store",
				ArgsUsage: "FILE",
				Action:    importBackup,
			},
			{
				Name:  "list",
				Usage: "List videos with notes",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "query",
						Aliases: []string{"q"},
						Usage:   "Only videos whose title or notes contain this term",
					},
				},
				Action: listVideos,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
