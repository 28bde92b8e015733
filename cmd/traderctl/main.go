// Command traderctl es el cliente de línea de comandos del canal de
// administración (§6): abre una conexión corta al socket Unix de traderd,
// envía un Request y renderiza la Response. Grounded en
// original_source/crates/admin_ipc's send_request CLI harness (el mismo
// protocolo, consumido aquí desde Go en vez de Rust) y en
// cmd/scanner/main.go (teacher) para el estilo de subcomandos por
// flag.Parse + os.Args[0], sin introducir un framework de CLI que el
// resto del repositorio no usa.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/alejandrodnm/traderd/internal/adminipc"
	"github.com/olekukonko/tablewriter"
)

func main() {
	socketPath := flag.String("socket", adminipc.DefaultSocketPath, "path to traderd's admin control socket")
	timeout := flag.Duration("timeout", 3*time.Second, "request timeout")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cmd := args[0]
	rest := args[1:]

	req, err := buildRequest(cmd, rest)
	if err != nil {
		fmt.Fprintln(os.Stderr, "traderctl:", err)
		os.Exit(2)
	}

	resp, err := adminipc.SendRequest(*socketPath, req, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "traderctl:", err)
		os.Exit(1)
	}

	if err := render(resp); err != nil {
		fmt.Fprintln(os.Stderr, "traderctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: traderctl [-socket path] [-timeout dur] <command> [args]

commands:
  status                          print run id, gate states, paused strategies, open orders
  pause <strategy>                stop a strategy from proposing new intents
  resume <strategy>                let a paused strategy propose intents again
  flatten <market_id>              force-release a market's lease, clearing stuck lease state
  set-cap <name> <value>           hot-adjust a risk cap (per_market_cap_usd | per_strategy_cap_usd); <name>=<value> also accepted
  kill [actor]                     engage the global kill switch (actor defaults to operator)
  reinstate <gate>                 clear an operator-latched gate (kill_switch | drawdown_halt | venue_unhealthy)`)
}

func buildRequest(cmd string, rest []string) (adminipc.Request, error) {
	switch cmd {
	case "status":
		return adminipc.Request{Type: adminipc.ReqStatus}, nil
	case "pause":
		return withOneArg(adminipc.ReqPause, rest, "pause requires a strategy name")
	case "resume":
		return withOneArg(adminipc.ReqResume, rest, "resume requires a strategy name")
	case "flatten":
		return withOneArg(adminipc.ReqFlatten, rest, "flatten requires a market_id")
	case "set-cap":
		if len(rest) == 2 {
			return adminipc.Request{Type: adminipc.ReqSetCap, Payload: rest[0] + "=" + rest[1]}, nil
		}
		return withOneArg(adminipc.ReqSetCap, rest, "set-cap requires <name> <value> or <name>=<value>")
	case "kill":
		if len(rest) == 0 {
			return adminipc.Request{Type: adminipc.ReqKill, Payload: "operator"}, nil
		}
		return withOneArg(adminipc.ReqKill, rest, "kill takes at most one argument: the actor name")
	case "reinstate":
		return withOneArg(adminipc.ReqReinstate, rest, "reinstate requires a gate name")
	default:
		return adminipc.Request{}, fmt.Errorf("unknown command %q", cmd)
	}
}

func withOneArg(t adminipc.RequestType, rest []string, usageErr string) (adminipc.Request, error) {
	if len(rest) != 1 {
		return adminipc.Request{}, errors.New(usageErr)
	}
	return adminipc.Request{Type: t, Payload: rest[0]}, nil
}

func render(resp adminipc.Response) error {
	switch resp.Type {
	case adminipc.RespError:
		return fmt.Errorf("%s", resp.Error)
	case adminipc.RespAck:
		fmt.Println("ok")
		return nil
	case adminipc.RespStatus:
		return renderStatus(resp.Status)
	default:
		return fmt.Errorf("unrecognized response type %q", resp.Type)
	}
}

func renderStatus(status *adminipc.Status) error {
	if status == nil {
		return fmt.Errorf("status response missing payload")
	}

	fmt.Printf("run_id: %s\nopen_orders: %d\n\n", status.RunID, status.OpenOrders)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("gate", "active")
	for _, g := range status.Gates {
		table.Append(g.Name, fmt.Sprintf("%v", g.Active))
	}
	table.Render()

	fmt.Println()
	if len(status.PausedStrategies) == 0 {
		fmt.Println("paused_strategies: (none)")
		return nil
	}
	fmt.Println("paused_strategies:")
	for _, s := range status.PausedStrategies {
		fmt.Println("  -", s)
	}
	return nil
}
