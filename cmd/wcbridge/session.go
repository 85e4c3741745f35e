package main

import (
	"github.com/urfave/cli/v2"
)

var status = cli.Command{
	Name:   "status",
	Usage:  "returns info about the status of the bridge",
	Action: getStatusAction,
}

var listsessions = cli.Command{
	Name:   "listsessions",
	Usage:  "list all active WalletConnect sessions",
	Action: listSessionsAction,
}

var disconnect = cli.Command{
	Name:      "disconnect",
	Usage:     "close a session and notify the peer",
	ArgsUsage: "<topic>",
	Action:    disconnectAction,
}

var pair = cli.Command{
	Name:      "pair",
	Usage:     "pair with a dApp given its WalletConnect uri",
	ArgsUsage: "<wc uri>",
	Action:    pairAction,
}

func getStatusAction(ctx *cli.Context) error {
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	reply, err := client.status(ctx.Context)
	if err != nil {
		return err
	}

	return printRespJSON(ctx, reply)
}

func listSessionsAction(ctx *cli.Context) error {
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	sessions, err := client.listSessions(ctx.Context)
	if err != nil {
		return err
	}

	return printRespJSON(ctx, sessions)
}

func disconnectAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return &invalidUsageError{ctx, "disconnect"}
	}

	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	if err := client.disconnect(ctx.Context, ctx.Args().First()); err != nil {
		return err
	}

	return printRespJSON(ctx, map[string]string{"disconnected": ctx.Args().First()})
}

func pairAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return &invalidUsageError{ctx, "pair"}
	}

	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	if err := client.pair(ctx.Context, ctx.Args().First()); err != nil {
		return err
	}

	return printRespJSON(
		ctx, map[string]string{"status": "pairing, approve on the dApp side"},
	)
}
