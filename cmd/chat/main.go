package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MegaGrindStone/medigem-relay/internal/chatclient"
	"github.com/MegaGrindStone/medigem-relay/internal/logging"
	"github.com/MegaGrindStone/medigem-relay/internal/models"
	"github.com/charmbracelet/lipgloss"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type config struct {
	URL         string         `env:"MEDIGEM_URL" env-default:"http://localhost:3001/api/chat"`
	IdleTimeout time.Duration  `env:"IDLE_TIMEOUT" env-default:"60s"`
	Log         logging.Config
}

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#00B8D4")).
			Padding(0, 1).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8A8A8A"))

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00B8D4")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87"))
)

const clearLine = "\r\033[K"

func main() {
	_ = godotenv.Load()

	var cfg config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatal(fmt.Errorf("error reading environment: %w", err))
	}

	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatal(fmt.Errorf("error setting up logger: %w", err))
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := chatclient.New(cfg.URL, logger, chatclient.WithIdleTimeout(cfg.IdleTimeout))
	conv := chatclient.NewConversation()

	fmt.Println(titleStyle.Render("AI Medical Assistant"))
	fmt.Println(mutedStyle.Render("Hello! I'm MEDI-GEM, your AI health assistant. How can I help you today?"))
	fmt.Println(mutedStyle.Render("Remember: I am not a doctor. Please consult a healthcare professional for medical advice."))
	fmt.Println(mutedStyle.Render("Type /new to start over, /quit to leave."))

	lines := readLines(ctx)
	for {
		fmt.Print("\n" + userStyle.Render("You") + " ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case l, ok := <-lines:
			if !ok {
				fmt.Println()
				return
			}
			line = l
		}

		switch strings.TrimSpace(line) {
		case "/quit":
			return
		case "/new":
			conv = chatclient.NewConversation()
			fmt.Println(mutedStyle.Render("Started a new conversation."))
			continue
		}

		res, err := client.SendTurn(ctx, conv, line, printer())
		if errors.Is(err, models.ErrEmptyInput) {
			continue
		}
		if err != nil {
			fmt.Println(errorStyle.Render(err.Error()))
			continue
		}

		switch {
		case res.State == models.TurnStateCompleted && res.Frames == 0:
			fmt.Print(clearLine)
			fmt.Println(mutedStyle.Render("(no reply)"))
		case res.Fallback:
			fmt.Print(clearLine + assistantStyle.Render("MEDI-GEM") + " ")
			fmt.Println(errorStyle.Render(chatclient.FallbackReply))
		case res.State == models.TurnStateFailed:
			fmt.Println()
			fmt.Println(errorStyle.Render("(reply interrupted)"))
		default:
			fmt.Println()
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// printer renders a turn as it streams: a pending indicator until the first fragment arrives, then the
// fragments as they come in.
func printer() chatclient.Observer {
	return chatclient.Observer{
		State: func(s models.TurnState) {
			switch s {
			case models.TurnStateRequesting:
				fmt.Print(assistantStyle.Render("MEDI-GEM") + " " + mutedStyle.Render("..."))
			case models.TurnStateStreaming:
				fmt.Print(clearLine + assistantStyle.Render("MEDI-GEM") + " ")
			}
		},
		Fragment: func(fragment, _ string) {
			fmt.Print(fragment)
		},
	}
}

func readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
