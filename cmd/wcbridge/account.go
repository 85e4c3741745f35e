package main

import (
	"strings"

	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/neuraiproject/wcbridge/pkg/wallet"
	"github.com/urfave/cli/v2"
)

var listaccounts = cli.Command{
	Name:   "listaccounts",
	Usage:  "list all accounts served by the bridge",
	Action: listAccountsAction,
}

var addaccount = cli.Command{
	Name:      "addaccount",
	Usage:     "derive a new account and grant it to every session",
	ArgsUsage: "<derivation path>",
	Action:    addAccountAction,
}

var removeaccount = cli.Command{
	Name:      "removeaccount",
	Usage:     "stop serving an account and revoke it from every session",
	ArgsUsage: "<address>",
	Action:    removeAccountAction,
}

var genseed = cli.Command{
	Name:   "genseed",
	Usage:  "generate a mnemonic seed for the in-process key chain",
	Action: genSeedAction,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "entropy",
			Usage: "entropy size in bits, multiple of 32 between 128 and 256",
			Value: 256,
		},
	},
}

var parseid = cli.Command{
	Name:      "parseid",
	Usage:     "parse and validate a bip122 chain or account identifier",
	ArgsUsage: "<chain id | account id>",
	Action:    parseIdAction,
}

func listAccountsAction(ctx *cli.Context) error {
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	accounts, err := client.listAccounts(ctx.Context)
	if err != nil {
		return err
	}

	return printRespJSON(ctx, accounts)
}

func addAccountAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return &invalidUsageError{ctx, "addaccount"}
	}
	path := ctx.Args().First()
	if _, err := wallet.ParseDerivationPath(path); err != nil {
		return err
	}

	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	account, err := client.addAccount(ctx.Context, path)
	if err != nil {
		return err
	}

	return printRespJSON(ctx, account)
}

func removeAccountAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return &invalidUsageError{ctx, "removeaccount"}
	}

	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	if err := client.removeAccount(ctx.Context, ctx.Args().First()); err != nil {
		return err
	}

	return printRespJSON(ctx, map[string]string{"removed": ctx.Args().First()})
}

func genSeedAction(ctx *cli.Context) error {
	mnemonic, err := wallet.NewMnemonic(wallet.NewMnemonicOpts{
		EntropySize: ctx.Int("entropy"),
	})
	if err != nil {
		return err
	}

	_, err = ctx.App.Writer.Write([]byte(strings.Join(mnemonic, " ") + "\n"))
	return err
}

func parseIdAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return &invalidUsageError{ctx, "parseid"}
	}
	id := ctx.Args().First()

	if strings.Count(id, ":") == 1 {
		chainId, err := domain.ParseChainId(id)
		if err != nil {
			return err
		}
		return printRespJSON(ctx, map[string]string{
			"namespace": chainId.Namespace,
			"reference": chainId.Reference,
		})
	}

	accountId, err := domain.ParseAccountId(id)
	if err != nil {
		return err
	}
	return printRespJSON(ctx, map[string]string{
		"namespace": accountId.ChainId.Namespace,
		"reference": accountId.ChainId.Reference,
		"address":   accountId.Address,
	})
}
