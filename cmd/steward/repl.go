package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stewardhq/steward"
)

// repl drives the session turn by turn from stdin. Progress events for
// the session stream to stdout from a background goroutine; turn results
// print when the loop hands control back.
func repl(ctx context.Context, rt *steward.Runtime, sessionID string) error {
	sub := rt.Subscribe(sessionID)
	defer sub.Close()
	go printEvents(sub)

	var pendingPlan string
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}

		var (
			res steward.TurnResult
			err error
		)
		switch {
		case line == "/quit":
			return nil

		case line == "/interrupt":
			rt.Interrupt(sessionID)
			fmt.Print("> ")
			continue

		case line == "/approve":
			if pendingPlan == "" {
				fmt.Println("nothing is waiting for approval")
				fmt.Print("> ")
				continue
			}
			res, err = rt.Approve(ctx, sessionID, pendingPlan)
			pendingPlan = ""

		case strings.HasPrefix(line, "/reject"):
			if pendingPlan == "" {
				fmt.Println("nothing is waiting for approval")
				fmt.Print("> ")
				continue
			}
			reason := strings.TrimSpace(strings.TrimPrefix(line, "/reject"))
			res, err = rt.Reject(ctx, sessionID, pendingPlan, reason)
			pendingPlan = ""

		default:
			res, err = rt.RunTurn(ctx, sessionID, line)
		}

		var await *steward.ErrAwaitingApproval
		switch {
		case errors.As(err, &await):
			pendingPlan = await.PlanID
			fmt.Printf("\n[approval needed] %s\n", await.Message)
			for _, call := range await.Calls {
				fmt.Printf("  - %s %s\n", call.Name, call.Args)
			}
		case err != nil:
			fmt.Fprintf(os.Stderr, "turn failed: %v\n", err)
		default:
			fmt.Printf("\n%s\n[%s: %d tool calls, %d failed, %v]\n",
				res.Answer, res.Status, res.ToolCalls, res.Failed, res.Duration.Round(time.Millisecond))
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}

// printEvents mirrors the progress stream onto the terminal. Answer text
// arrives via text_delta events; everything else prints as a status line.
func printEvents(sub *steward.Subscription) {
	for ev := range sub.Events() {
		switch ev.Type {
		case steward.EventTextDelta:
			// Shown in the final answer; skip to keep the stream quiet.
		case steward.EventToolCallStarted:
			fmt.Printf("[tool] %v\n", ev.Payload["tool"])
		case steward.EventToolCallFailed:
			fmt.Printf("[tool failed] %v: %v\n", ev.Payload["tool"], ev.Payload["error"])
		case steward.EventAuthorizationDenied:
			fmt.Printf("[denied] %v: %v\n", ev.Payload["tool"], ev.Payload["reason"])
		case steward.EventToolCallRetrying:
			fmt.Printf("[retry] %v attempt %v\n", ev.Payload["tool"], ev.Payload["attempt"])
		}
	}
}
