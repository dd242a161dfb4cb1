// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "convoy",
		Usage: "Archive and search AI assistant conversations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration file",
				EnvVars: []string{"CONVOY_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Override the data directory",
				EnvVars: []string{"CONVOY_DATA_DIR"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Write a default configuration file",
				Action: initCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing configuration file",
					},
				},
			},
			{
				Name:  "account",
				Usage: "Manage provider accounts",
				Subcommands: []*cli.Command{
					{
						Name:      "add",
						Usage:     "Register an account",
						ArgsUsage: "<id>",
						Action:    accountAddCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "provider",
								Aliases:  []string{"p"},
								Usage:    "Provider ID",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "source",
								Usage: "Provider specific source, e.g. an export directory",
							},
							&cli.StringFlag{
								Name:  "email",
								Usage: "Account email",
							},
							&cli.StringFlag{
								Name:  "name",
								Usage: "Display name",
							},
						},
					},
					{
						Name:   "list",
						Usage:  "List registered accounts",
						Action: accountListCommand,
					},
					{
						Name:      "remove",
						Usage:     "Remove an account",
						ArgsUsage: "<id>",
						Action:    accountRemoveCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "provider",
								Aliases:  []string{"p"},
								Usage:    "Provider ID",
								Required: true,
							},
						},
					},
				},
			},
			{
				Name:   "pull",
				Usage:  "Fetch, embed, and index conversations from every account",
				Action: pullCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "new-only",
						Usage: "Skip conversations that have not changed since the last pull",
					},
					&cli.StringFlag{
						Name:    "provider",
						Aliases: []string{"p"},
						Usage:   "Only pull accounts of this provider",
					},
					&cli.IntFlag{
						Name:  "capacity",
						Usage: "Channel capacity between pipeline stages (0 uses the configured value)",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Embedding workers (0 uses the configured value)",
					},
					&cli.IntFlag{
						Name:  "fetch-workers",
						Usage: "Concurrent account fetchers (0 uses the configured value)",
					},
					&cli.IntFlag{
						Name:  "media-workers",
						Usage: "Attachment download workers (0 uses the configured value)",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search archived conversations",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "mode",
						Aliases: []string{"m"},
						Usage:   "Search mode (fts, semantic, hybrid)",
						Value:   "hybrid",
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"k"},
						Usage:   "Maximum number of results",
						Value:   10,
					},
					&cli.StringFlag{
						Name:  "level",
						Usage: "Embedding level for semantic ranking (chunk, message, conversation)",
						Value: "chunk",
					},
				},
			},
			{
				Name:   "list",
				Usage:  "List archived conversations, newest first",
				Action: listCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "provider",
						Aliases: []string{"p"},
						Usage:   "Only list conversations of this provider",
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of conversations (0 lists all)",
						Value:   20,
					},
				},
			},
			{
				Name:      "show",
				Usage:     "Print a conversation as a message tree",
				ArgsUsage: "<conversation-id>",
				Action:    showCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "provider",
						Aliases:  []string{"p"},
						Usage:    "Provider ID",
						Required: true,
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Show archive statistics",
				Action: statsCommand,
			},
			{
				Name:   "history",
				Usage:  "Show recent pull runs",
				Action: historyCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Number of runs to show",
						Value:   10,
					},
				},
			},
			{
				Name:   "compact",
				Usage:  "Merge embedding segments into consolidated files",
				Action: compactCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "status",
						Usage: "Only report segment counts",
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Recompute every embedding with the configured model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "provider",
						Aliases: []string{"p"},
						Usage:   "Only reembed conversations of this provider",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of conversations to process in each batch (0 uses the configured value)",
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N conversations (0 uses the configured value)",
					},
				},
			},
		},
	}
}
