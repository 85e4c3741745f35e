package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/urfave/cli/v2"
)

const defaultRPCServer = "http://localhost:9000"

var (
	cliDataDir = btcutil.AppDataDir("wcbridge-cli", false)
	statePath  = filepath.Join(cliDataDir, "state.json")

	rpcServerFlag = cli.StringFlag{
		Name:    "rpcserver",
		Usage:   "url of the wcbridged operator interface, overrides the local state",
		EnvVars: []string{"WCBRIDGE_RPCSERVER"},
	}
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fatal(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()

	app.Version = "0.1.0"
	app.Name = "wcbridge"
	app.Usage = "Command line interface for wcbridged operators"
	app.Flags = []cli.Flag{&rpcServerFlag}
	app.Commands = append(
		app.Commands,
		&config,
		&genseed,
		&parseid,
		&status,
		&listsessions,
		&disconnect,
		&pair,
		&listaccounts,
		&addaccount,
		&removeaccount,
	)
	return app
}

func getState() (map[string]string, error) {
	data := map[string]string{}

	file, err := os.ReadFile(statePath)
	if err != nil {
		return nil, errors.New("get config state error: try 'config init'")
	}
	if err := json.Unmarshal(file, &data); err != nil {
		return nil, fmt.Errorf("invalid config state: %w", err)
	}

	return data, nil
}

func setState(data map[string]string) error {
	if err := os.MkdirAll(cliDataDir, os.ModeDir|0755); err != nil {
		return err
	}

	currentData, err := getState()
	if err != nil {
		currentData = map[string]string{}
	}

	mergedData := merge(currentData, data)

	jsonString, err := json.Marshal(mergedData)
	if err != nil {
		return err
	}
	if err := os.WriteFile(statePath, jsonString, 0644); err != nil {
		return fmt.Errorf("writing to file: %w", err)
	}

	return nil
}

func merge(maps ...map[string]string) map[string]string {
	merge := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			merge[k] = v
		}
	}
	return merge
}

func printRespJSON(ctx *cli.Context, resp interface{}) error {
	buf, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return fmt.Errorf("unable to decode response: %w", err)
	}
	_, err = fmt.Fprintln(ctx.App.Writer, string(buf))
	return err
}

func getOperatorClient(ctx *cli.Context) (*operatorClient, error) {
	if address := ctx.String(rpcServerFlag.Name); address != "" {
		return newOperatorClient(address)
	}

	state, err := getState()
	if err != nil {
		return nil, err
	}
	address, ok := state["rpcserver"]
	if !ok {
		return nil, errors.New("set rpcserver with `config set rpcserver`")
	}
	return newOperatorClient(address)
}

type invalidUsageError struct {
	ctx     *cli.Context
	command string
}

func (e *invalidUsageError) Error() string {
	return fmt.Sprintf("invalid usage of command %s", e.command)
}

func fatal(err error) {
	var e *invalidUsageError
	if errors.As(err, &e) {
		_ = cli.ShowCommandHelp(e.ctx, e.command)
	} else {
		_, _ = fmt.Fprintf(os.Stderr, "[wcbridge] %v\n", err)
	}
	os.Exit(1)
}
