package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/memoria/internal/app"
	"github.com/ternarybob/memoria/internal/models"
)

// runShell reads queries from stdin, answers each from the knowledge
// connector, and records the exchange in the conversation context. Lines
// beginning with "/" are commands.
func runShell(application *app.App, conversationID string) {
	ctx := context.Background()

	fmt.Println("Type a query, or /help for commands.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if !runCommand(ctx, application, conversationID, line) {
				return
			}
			continue
		}

		answerQuery(ctx, application, conversationID, line)
	}
}

// runCommand handles a slash command; returns false when the shell should
// exit.
func runCommand(ctx context.Context, application *app.App, conversationID, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return false

	case "/help":
		fmt.Println("  <text>            query the knowledge service")
		fmt.Println("  /status           show connector state")
		fmt.Println("  /refresh          clear cache and re-probe the remote service")
		fmt.Println("  /reset            reset the connector to a cold start")
		fmt.Println("  /history          show the conversation transcript")
		fmt.Println("  /quit             exit")

	case "/status":
		status := application.KnowledgeService.Status()
		fmt.Printf("state=%s fallback=%t consecutive_failures=%d\n",
			status.State, status.FallbackModeActive, status.ConsecutiveFailures)

	case "/refresh":
		if err := application.KnowledgeService.ForceRefresh(ctx); err != nil {
			fmt.Printf("refresh failed: %v\n", err)
		} else {
			fmt.Println("remote service healthy")
		}

	case "/reset":
		application.KnowledgeService.Reset()
		fmt.Println("connector reset")

	case "/history":
		cctx, err := application.ContextService.Load(ctx, conversationID)
		if err != nil {
			fmt.Printf("no history: %v\n", err)
			break
		}
		for _, msg := range cctx.Messages {
			fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
		}

	default:
		fmt.Printf("unknown command %s\n", fields[0])
	}
	return true
}

// answerQuery fetches knowledge for the query and records both sides of the
// exchange. Context persistence failures are logged, never fatal.
func answerQuery(ctx context.Context, application *app.App, conversationID, text string) {
	items := application.KnowledgeService.FetchKnowledge(ctx, models.KnowledgeQuery{Text: text})

	if err := application.ContextService.AppendMessage(ctx, conversationID, models.RoleUser, text); err != nil {
		application.Logger.Warn().Err(err).Msg("Failed to record user message")
	}

	var reply strings.Builder
	if len(items) == 0 {
		reply.WriteString("No knowledge available for this query.")
	} else {
		for i, item := range items {
			fmt.Printf("%d. %s (%s, relevance %.2f)\n   %s\n", i+1, item.Title, item.Source, item.Relevance, item.Content)
			if i > 0 {
				reply.WriteString("; ")
			}
			reply.WriteString(item.Title)
		}
	}
	if len(items) == 0 {
		fmt.Println(reply.String())
	}

	if err := application.ContextService.AppendMessage(ctx, conversationID, models.RoleAssistant, reply.String()); err != nil {
		application.Logger.Warn().Err(err).Msg("Failed to record assistant message")
	}
}
