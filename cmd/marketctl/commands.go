package main

import (
	"net/url"
	"strconv"

	"github.com/leafsii/marketplace/internal/api"
	"github.com/leafsii/marketplace/internal/client"
	"github.com/urfave/cli/v2"
)

// run wraps an action that needs a client and prints its result.
func run(fn func(c *cli.Context, mc *client.Client) (any, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		mc, err := newClient(c)
		if err != nil {
			return err
		}
		out, err := fn(c, mc)
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		return printJSON(out)
	}
}

func tradingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tradings",
		Usage: "list, create, buy and cancel tradings",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list open tradings",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "collection"},
					&cli.StringFlag{Name: "seller"},
					&cli.StringFlag{Name: "currency"},
				},
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					return mc.ListTradings(c.Context, client.TradingQuery{
						Collection: c.String("collection"),
						Seller:     c.String("seller"),
						Currency:   c.String("currency"),
					})
				}),
			},
			{
				Name:      "get",
				ArgsUsage: "COLLECTION ASSET_ID",
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					if err := requireArgs(c, 2); err != nil {
						return nil, err
					}
					return mc.GetTrading(c.Context, c.Args().Get(0), c.Args().Get(1))
				}),
			},
			{
				Name:      "create",
				Usage:     "list an asset owned by --caller",
				ArgsUsage: "COLLECTION ASSET_ID PRICE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "currency", Usage: "token address; native when empty"},
				},
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					if err := requireArgs(c, 3); err != nil {
						return nil, err
					}
					price, err := units(c, c.Args().Get(2))
					if err != nil {
						return nil, err
					}
					return mc.CreateTrading(c.Context, api.CreateTradingRequest{
						Collection: c.Args().Get(0),
						AssetID:    c.Args().Get(1),
						Price:      price,
						Currency:   c.String("currency"),
					})
				}),
			},
			{
				Name:      "buy",
				Usage:     "buy a trading as --caller",
				ArgsUsage: "COLLECTION ASSET_ID",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "value", Usage: "native amount to attach"},
				},
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					if err := requireArgs(c, 2); err != nil {
						return nil, err
					}
					value, err := units(c, c.String("value"))
					if err != nil {
						return nil, err
					}
					return mc.Buy(c.Context, c.Args().Get(0), c.Args().Get(1), value)
				}),
			},
			{
				Name:      "cancel",
				ArgsUsage: "COLLECTION ASSET_ID",
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					if err := requireArgs(c, 2); err != nil {
						return nil, err
					}
					return mc.CancelTrading(c.Context, c.Args().Get(0), c.Args().Get(1))
				}),
			},
		},
	}
}

func feesCommand() *cli.Command {
	return &cli.Command{
		Name:  "fees",
		Usage: "inspect and manage per-collection fee rates",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				ArgsUsage: "COLLECTION",
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					if err := requireArgs(c, 1); err != nil {
						return nil, err
					}
					return mc.GetFee(c.Context, c.Args().First())
				}),
			},
			{
				Name:      "set",
				ArgsUsage: "COLLECTION RATE",
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					if err := requireArgs(c, 2); err != nil {
						return nil, err
					}
					rate, err := strconv.Atoi(c.Args().Get(1))
					if err != nil {
						return nil, err
					}
					return mc.SetSpecialFee(c.Context, c.Args().Get(0), rate)
				}),
			},
			{
				Name:      "remove",
				ArgsUsage: "COLLECTION",
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					if err := requireArgs(c, 1); err != nil {
						return nil, err
					}
					return mc.RemoveSpecialFee(c.Context, c.Args().First())
				}),
			},
		},
	}
}

func currenciesCommand() *cli.Command {
	return &cli.Command{
		Name:  "currencies",
		Usage: "manage the currency allow-list",
		Subcommands: []*cli.Command{
			{
				Name: "list",
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					return mc.ListCurrencies(c.Context)
				}),
			},
			{
				Name:      "add",
				ArgsUsage: "CURRENCY",
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					if err := requireArgs(c, 1); err != nil {
						return nil, err
					}
					return mc.AddCurrency(c.Context, c.Args().First())
				}),
			},
			{
				Name:      "remove",
				ArgsUsage: "CURRENCY",
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					if err := requireArgs(c, 1); err != nil {
						return nil, err
					}
					return mc.RemoveCurrency(c.Context, c.Args().First())
				}),
			},
		},
	}
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "page through the event archive",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "collection"},
			&cli.StringFlag{Name: "asset"},
			&cli.StringFlag{Name: "participant"},
			&cli.StringFlag{Name: "type"},
			&cli.StringFlag{Name: "cursor"},
			&cli.IntFlag{Name: "limit"},
		},
		Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
			q := url.Values{}
			for flag, param := range map[string]string{
				"collection":  "collection",
				"asset":       "assetId",
				"participant": "participant",
				"type":        "type",
				"cursor":      "cursor",
			} {
				if v := c.String(flag); v != "" {
					q.Set(param, v)
				}
			}
			if n := c.Int("limit"); n > 0 {
				q.Set("limit", strconv.Itoa(n))
			}
			return mc.ListEvents(c.Context, q)
		}),
	}
}

func adminCommand() *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "administrator operations, run as an admin --caller",
		Subcommands: []*cli.Command{
			{
				Name:      "claim",
				Usage:     "withdraw accumulated fees",
				ArgsUsage: "[CURRENCY]",
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					return mc.Claim(c.Context, c.Args().First())
				}),
			},
			{
				Name: "balances",
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					return mc.Balances(c.Context)
				}),
			},
			{
				Name: "roles",
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					return mc.Roles(c.Context)
				}),
			},
			{
				Name:      "grant",
				ArgsUsage: "ADDRESS",
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					if err := requireArgs(c, 1); err != nil {
						return nil, err
					}
					return mc.GrantAdmin(c.Context, c.Args().First())
				}),
			},
			{
				Name:      "revoke",
				ArgsUsage: "ADDRESS",
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					if err := requireArgs(c, 1); err != nil {
						return nil, err
					}
					return mc.RevokeAdmin(c.Context, c.Args().First())
				}),
			},
		},
	}
}

func devCommand() *cli.Command {
	return &cli.Command{
		Name:  "dev",
		Usage: "drive the in-process registry and bank of a dev server",
		Subcommands: []*cli.Command{
			{
				Name:      "mint-asset",
				ArgsUsage: "COLLECTION ASSET_ID OWNER",
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					if err := requireArgs(c, 3); err != nil {
						return nil, err
					}
					return mc.MintAsset(c.Context, c.Args().Get(0), c.Args().Get(1), c.Args().Get(2))
				}),
			},
			{
				Name:      "approve",
				Usage:     "let the marketplace move all of --caller's assets in a collection",
				ArgsUsage: "COLLECTION",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "revoke"},
				},
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					if err := requireArgs(c, 1); err != nil {
						return nil, err
					}
					return nil, mc.ApproveMarket(c.Context, c.Args().First(), !c.Bool("revoke"))
				}),
			},
			{
				Name:      "fund",
				ArgsUsage: "HOLDER AMOUNT",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "currency", Usage: "token address; native when empty"},
				},
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					if err := requireArgs(c, 2); err != nil {
						return nil, err
					}
					amount, err := units(c, c.Args().Get(1))
					if err != nil {
						return nil, err
					}
					return mc.Fund(c.Context, c.String("currency"), c.Args().Get(0), amount)
				}),
			},
			{
				Name:      "allow",
				Usage:     "set the marketplace allowance on --caller's tokens",
				ArgsUsage: "CURRENCY AMOUNT",
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					if err := requireArgs(c, 2); err != nil {
						return nil, err
					}
					amount, err := units(c, c.Args().Get(1))
					if err != nil {
						return nil, err
					}
					return nil, mc.ApproveAllowance(c.Context, c.Args().Get(0), amount)
				}),
			},
			{
				Name:      "wallet",
				ArgsUsage: "ADDRESS",
				Action: run(func(c *cli.Context, mc *client.Client) (any, error) {
					if err := requireArgs(c, 1); err != nil {
						return nil, err
					}
					return mc.Wallet(c.Context, c.Args().First())
				}),
			},
		},
	}
}
