package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	sessionKey string
	adminToken string
	ageGroup   string
	days       int
	amount     int

	rootCmd = &cobra.Command{
		Use:          "capyctl",
		Short:        "Command line client for a capylingo server",
		SilenceUsage: true,
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Play the conversation in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), newClient(serverURL, ""), os.Stdin, cmd.OutOrStdout())
		},
	}

	accountCmd = &cobra.Command{
		Use:   "account",
		Short: "Inspect and adjust accounts",
	}
	accountShowCmd = &cobra.Command{
		Use:   "show [user_id]",
		Short: "Show lives, premium, streaks and experience of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newClient(serverURL, adminToken).Account(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printAccount(cmd.OutOrStdout(), v)
			return nil
		},
	}
	accountLivesCmd = &cobra.Command{
		Use:   "lives [user_id]",
		Short: "Grant bonus lives up to the cap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newClient(serverURL, adminToken).AddLives(cmd.Context(), args[0], amount)
			if err != nil {
				return err
			}
			printAccount(cmd.OutOrStdout(), v)
			return nil
		},
	}

	premiumCmd = &cobra.Command{
		Use:   "premium",
		Short: "Manage premium access",
	}
	premiumGrantCmd = &cobra.Command{
		Use:   "grant [user_id]",
		Short: "Extend premium by a number of days",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newClient(serverURL, adminToken).GrantPremium(cmd.Context(), args[0], days)
			if err != nil {
				return err
			}
			printAccount(cmd.OutOrStdout(), v)
			return nil
		},
	}
)

func init() {
	defaultServer := os.Getenv("CAPYCTL_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "capylingo server base URL")
	rootCmd.PersistentFlags().StringVar(&adminToken, "admin-token", os.Getenv("CAPYCTL_ADMIN_TOKEN"), "operator token for the account commands")

	chatCmd.Flags().StringVar(&sessionKey, "session", "cli:"+hostUser(), "session key of the conversation")
	chatCmd.Flags().StringVar(&ageGroup, "age-group", "adult", "answer evaluation policy: adult or kid")

	accountLivesCmd.Flags().IntVar(&amount, "amount", 1, "number of lives to add")
	premiumGrantCmd.Flags().IntVar(&days, "days", 30, "number of premium days to add")

	accountCmd.AddCommand(accountShowCmd, accountLivesCmd)
	premiumCmd.AddCommand(premiumGrantCmd)
	rootCmd.AddCommand(chatCmd, accountCmd, premiumCmd)
}

func hostUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

// runChat is a line based REPL: every input line is one event.
func runChat(ctx context.Context, c *client, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fmt.Fprintf(out, "session %s, type /quit to leave\n", sessionKey)

	send := func(text string) error {
		reqCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		resp, err := c.Event(reqCtx, eventRequest{
			SessionKey: sessionKey,
			Text:       text,
			AgeGroup:   ageGroup,
		})
		if err != nil {
			return err
		}
		printResponse(out, resp)
		return nil
	}

	if err := send("/start"); err != nil {
		return err
	}
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}
		if err := send(line); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func printResponse(out io.Writer, r eventResponse) {
	fmt.Fprintln(out, r.Text)
	for i, o := range r.Options {
		fmt.Fprintf(out, "  %d) %s\n", i+1, o)
	}
	if r.Game != nil {
		fmt.Fprintf(out, "  [%s game, %d items]\n", r.Game.GameType, len(r.Game.Items))
	}
}

func printAccount(out io.Writer, v accountView) {
	fmt.Fprintf(out, "user:        %s\n", v.UserID)
	fmt.Fprintf(out, "lives:       %d/%d (next in %ds)\n", v.Lives, v.Cap, v.NextRestoreInSeconds)
	fmt.Fprintf(out, "premium:     %t\n", v.Premium)
	if v.PremiumUntil != nil {
		fmt.Fprintf(out, "premium to:  %s\n", v.PremiumUntil.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "level:       %d (%d/%d xp)\n", v.Level, v.XP, v.NextLevelXP)
	fmt.Fprintf(out, "streak:      %d (daily %d)\n", v.Streak, v.DailyStreak)
}
