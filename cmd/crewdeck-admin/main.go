// ABOUTME: Admin CLI for crewdeck-gateway agents and executions
// ABOUTME: Talks to the gateway's HTTP API; execute --wait polls until the execution settles

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/crewdeck/crewdeck-gateway/internal/gateway"
	"github.com/crewdeck/crewdeck-gateway/internal/store"
)

const banner = `
                               _           _                 _           _
  ___ _ __ _____      ____  __| | ___  ___| | __    __ _  __| |_ __ ___ (_)_ __
 / __| '__/ _ \ \ /\ / / _' |/ _ \/ __| |/ /___ / _' |/ _' | '_ ' _ \| | '_ \
| (__| | |  __/\ V  V / (_| |  __/ (__|   <____| (_| | (_| | | | | | | | | | |
 \___|_|  \___| \_/\_/ \__,_|\___|\___|_|\_\    \__,_|\__,_|_| |_| |_|_|_| |_|
`

// defaultWaitTimeout covers the server's default execution timeout plus a margin.
const defaultWaitTimeout = 6 * time.Minute

type cli struct {
	api *apiClient
	out io.Writer
	// pollInterval is how often execute --wait checks the execution.
	pollInterval time.Duration
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := &cli{
		api:          newAPIClient(getEnv("CREWDECK_URL", "http://localhost:3001")),
		out:          os.Stdout,
		pollInterval: time.Second,
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "agents":
		err = c.cmdAgents(ctx, args)
	case "execute":
		err = c.cmdExecute(ctx, args)
	case "executions":
		err = c.cmdExecutions(ctx, args)
	case "cancel":
		err = c.cmdCancel(ctx, args)
	case "status":
		err = c.cmdStatus(ctx)
	case "health":
		err = c.cmdHealth(ctx)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: crewdeck-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  agents                      List agents in display order")
	fmt.Println("  agents show <id>            Show one agent")
	fmt.Println("  agents create               Create an agent (--name --role --goal --backstory --task...)")
	fmt.Println("  agents delete <id>          Delete an agent")
	fmt.Println("  execute <agent-id> [--wait] Start an execution, optionally waiting for the result")
	fmt.Println("  executions [--limit N]      List recent executions")
	fmt.Println("  executions get <id>         Show one execution with its result")
	fmt.Println("  cancel <execution-id>       Cancel a running execution")
	fmt.Println("  status                      Show running executions and capacity")
	fmt.Println("  health                      Show database and model status")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  CREWDECK_URL                Gateway base URL (default: http://localhost:3001)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  crewdeck-admin agents create --name Scout --role Researcher \\")
	fmt.Println("      --goal 'Find sources' --backstory 'Former librarian' --task 'List three papers'")
	fmt.Println("  crewdeck-admin execute <agent-id> --wait")
	fmt.Println()
}

func (c *cli) cmdAgents(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.cmdAgentsList(ctx)
	}

	switch args[0] {
	case "list":
		return c.cmdAgentsList(ctx)
	case "show":
		if len(args) < 2 {
			return fmt.Errorf("usage: agents show <id>")
		}
		return c.cmdAgentsShow(ctx, args[1])
	case "create":
		return c.cmdAgentsCreate(ctx, args[1:])
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: agents delete <id>")
		}
		return c.cmdAgentsDelete(ctx, args[1])
	default:
		return fmt.Errorf("unknown agents subcommand: %s", args[0])
	}
}

func (c *cli) cmdAgentsList(ctx context.Context) error {
	agents, err := c.api.listAgents(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(c.out)
	cyan.Fprintln(c.out, "  Agents")
	cyan.Fprintln(c.out, "  ------")

	if len(agents) == 0 {
		fmt.Fprintln(c.out, "  (no agents)")
		fmt.Fprintln(c.out)
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  #\tID\tNAME\tROLE\tTASKS\tUPDATED")
	fmt.Fprintln(w, "  -\t--\t----\t----\t-----\t-------")
	for _, a := range agents {
		fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%d\t%s\n",
			a.Order, a.ID, truncate(a.Name, 24), truncate(a.Role, 24), len(a.Tasks), formatTime(a.UpdatedAt))
	}
	w.Flush()
	fmt.Fprintln(c.out)

	return nil
}

func (c *cli) cmdAgentsShow(ctx context.Context, id string) error {
	a, err := c.api.getAgent(ctx, id)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(c.out)
	cyan.Fprintf(c.out, "  %s\n", a.Name)
	cyan.Fprintln(c.out, "  "+strings.Repeat("-", len(a.Name)))
	fmt.Fprintf(c.out, "  ID:        %s\n", a.ID)
	fmt.Fprintf(c.out, "  Role:      %s\n", a.Role)
	fmt.Fprintf(c.out, "  Goal:      %s\n", a.Goal)
	fmt.Fprintf(c.out, "  Backstory: %s\n", a.Backstory)
	fmt.Fprintf(c.out, "  Position:  %d\n", a.Order)
	fmt.Fprintln(c.out, "  Tasks:")
	for i, task := range a.Tasks {
		fmt.Fprintf(c.out, "    %d. %s\n", i+1, task)
	}
	fmt.Fprintln(c.out)

	return nil
}

// parseAgentFlags supports "--flag value" and "--flag=value". --task may repeat.
func parseAgentFlags(args []string) (map[string]any, error) {
	body := make(map[string]any)
	var tasks []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s requires a value", arg)
			}
			value = args[i+1]
			i++
		}

		switch name {
		case "--name", "-n":
			body["name"] = value
		case "--role", "-r":
			body["role"] = value
		case "--goal", "-g":
			body["goal"] = value
		case "--backstory", "-b":
			body["backstory"] = value
		case "--task", "-t":
			tasks = append(tasks, value)
		default:
			return nil, fmt.Errorf("unknown flag: %s", name)
		}
	}

	if tasks != nil {
		body["tasks"] = tasks
	}
	return body, nil
}

func (c *cli) cmdAgentsCreate(ctx context.Context, args []string) error {
	body, err := parseAgentFlags(args)
	if err != nil {
		return err
	}

	agent, err := c.api.createAgent(ctx, body)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Fprintf(c.out, "  ✓ Created agent %s (%s)\n", agent.Name, agent.ID)
	return nil
}

func (c *cli) cmdAgentsDelete(ctx context.Context, id string) error {
	if err := c.api.deleteAgent(ctx, id); err != nil {
		return err
	}
	green := color.New(color.FgGreen)
	green.Fprintf(c.out, "  ✓ Deleted agent %s\n", id)
	return nil
}

func (c *cli) cmdExecute(ctx context.Context, args []string) error {
	var agentID string
	wait := false
	timeout := defaultWaitTimeout

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--wait" || arg == "-w":
			wait = true
		case arg == "--timeout":
			if i+1 >= len(args) {
				return fmt.Errorf("--timeout requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid --timeout: %w", err)
			}
			timeout = d
			i++
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		case agentID == "":
			agentID = arg
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if agentID == "" {
		return fmt.Errorf("usage: execute <agent-id> [--wait] [--timeout 6m]")
	}

	exec, err := c.api.executeAgent(ctx, agentID)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Fprintf(c.out, "  ▶ Started execution %s for %s\n", exec.ID, exec.AgentName)

	if !wait {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	final, err := c.waitForExecution(waitCtx, exec.ID)
	if err != nil {
		return err
	}
	c.printExecution(final)
	if final.Status == store.StatusFailed {
		return fmt.Errorf("execution failed")
	}
	return nil
}

// waitForExecution polls until the execution leaves the running state.
func (c *cli) waitForExecution(ctx context.Context, id string) (*gateway.ExecutionResponse, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		exec, err := c.api.getExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		if exec.Status != store.StatusRunning {
			return exec, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for execution %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *cli) cmdExecutions(ctx context.Context, args []string) error {
	if len(args) >= 1 && args[0] == "get" {
		if len(args) < 2 {
			return fmt.Errorf("usage: executions get <id>")
		}
		exec, err := c.api.getExecution(ctx, args[1])
		if err != nil {
			return err
		}
		c.printExecution(exec)
		return nil
	}

	if len(args) >= 1 && args[0] == "list" {
		args = args[1:]
	}

	limit := 20
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--limit", "-l":
			if i+1 >= len(args) {
				return fmt.Errorf("--limit requires a value")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid --limit: %w", err)
			}
			limit = n
			i++
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	execs, err := c.api.listExecutions(ctx, limit)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(c.out)
	cyan.Fprintln(c.out, "  Executions")
	cyan.Fprintln(c.out, "  ----------")

	if len(execs) == 0 {
		fmt.Fprintln(c.out, "  (no executions)")
		fmt.Fprintln(c.out)
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tAGENT\tSTATUS\tSTARTED\tRESULT")
	fmt.Fprintln(w, "  --\t-----\t------\t-------\t------")
	for _, e := range execs {
		result := ""
		if e.Result != nil {
			result = truncate(strings.ReplaceAll(*e.Result, "\n", " "), 40)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			e.ID, truncate(e.AgentName, 20), statusLabel(e.Status), formatTime(e.CreatedAt), result)
	}
	w.Flush()
	fmt.Fprintln(c.out)

	return nil
}

func (c *cli) printExecution(e *gateway.ExecutionResponse) {
	cyan := color.New(color.FgCyan)
	fmt.Fprintln(c.out)
	cyan.Fprintf(c.out, "  Execution %s\n", e.ID)
	fmt.Fprintf(c.out, "  Agent:   %s (%s)\n", e.AgentName, e.AgentID)
	fmt.Fprintf(c.out, "  Status:  %s\n", statusLabel(e.Status))
	fmt.Fprintf(c.out, "  Started: %s\n", formatTime(e.CreatedAt))
	if e.Result != nil {
		fmt.Fprintln(c.out)
		fmt.Fprintln(c.out, *e.Result)
	}
	fmt.Fprintln(c.out)
}

func (c *cli) cmdCancel(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: cancel <execution-id>")
	}
	if err := c.api.cancelExecution(ctx, args[0]); err != nil {
		return err
	}
	yellow := color.New(color.FgYellow)
	yellow.Fprintf(c.out, "  ■ Cancellation requested for %s\n", args[0])
	return nil
}

func (c *cli) cmdStatus(ctx context.Context) error {
	status, err := c.api.executionStatus(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Fprintln(c.out)
	cyan.Fprintln(c.out, "  Execution Queue")
	cyan.Fprintln(c.out, "  ---------------")
	fmt.Fprintf(c.out, "  Running:   %d / %d\n", status.Active, status.MaxConcurrent)
	if status.CanStart {
		green.Fprintln(c.out, "  Capacity:  available")
	} else {
		yellow.Fprintln(c.out, "  Capacity:  full")
	}
	if status.EnforceLimit {
		fmt.Fprintln(c.out, "  Limit:     enforced")
	} else {
		fmt.Fprintln(c.out, "  Limit:     advisory")
	}
	fmt.Fprintf(c.out, "  Timeout:   %s\n", time.Duration(status.TimeoutSec)*time.Second)

	if len(status.Queue) > 0 {
		fmt.Fprintln(c.out)
		w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  ID\tSTARTED\tRUNNING")
		fmt.Fprintln(w, "  --\t-------\t-------")
		for _, q := range status.Queue {
			running := time.Duration(q.Seconds * float64(time.Second)).Round(time.Second)
			fmt.Fprintf(w, "  %s\t%s\t%s\n", q.ID, formatTime(q.StartedAt), running)
		}
		w.Flush()
	}
	fmt.Fprintln(c.out)

	return nil
}

func (c *cli) cmdHealth(ctx context.Context) error {
	health, err := c.api.health(ctx)
	if health == nil {
		return err
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	label := green
	if health.Status != "healthy" {
		label = red
	}
	fmt.Fprint(c.out, "  Gateway:  ")
	label.Fprintln(c.out, health.Status)
	fmt.Fprintf(c.out, "  Database: %s\n", health.Services.Database)
	fmt.Fprintf(c.out, "  Model:    %s\n", health.Services.Model)

	return err
}

func statusLabel(status string) string {
	switch status {
	case store.StatusCompleted:
		return color.GreenString(status)
	case store.StatusFailed:
		return color.RedString(status)
	default:
		return color.YellowString(status)
	}
}

// formatTime renders API timestamps in local time, passing through anything unparseable.
func formatTime(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.Local().Format("Jan 02 15:04")
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
