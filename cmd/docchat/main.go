// Package main provides the docchat CLI entry point: an interactive chat
// interface for a document RAG server plus one-shot commands for the same
// HTTP API.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"docchat/internal/api"
	"docchat/internal/config"
	"docchat/internal/session"
	"docchat/internal/storage"
)

var (
	cfg     *config.Config
	client  *api.Client
	manager *session.Manager

	askSessionID string
	rmYes        bool
)

var rootCmd = &cobra.Command{
	Use:   "docchat",
	Short: "Chat with your documents from the terminal",
	Long: `docchat is a terminal client for a document RAG server.

Running docchat without a subcommand opens the interactive chat. One-shot
commands cover the rest of the API:

  docchat ask "What is the refund policy?"   # single question
  docchat upload report.pdf                  # ingest a document
  docchat files                              # list uploaded documents
  docchat history                            # list chat sessions
  docchat status                             # backend health`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setup()
	},
	RunE: runChat,
}

func setup() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
	cfg = config.New()
	client = api.New(cfg.RAGServerURL, cfg.HTTPTimeout)
	manager = session.NewManager(client, client, client)
	manager.SetTitleLimit(cfg.SessionTitleLimit)

	if cfg.EventLogPath != "" {
		rec, err := storage.NewFileRecorder(cfg.EventLogPath)
		if err != nil {
			log.Printf("⚠️ failed to init event recorder: %v", err)
		} else {
			manager.SetRecorder(rec)
		}
	}
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if askSessionID != "" {
			if err := manager.LoadSession(ctx, askSessionID); err != nil {
				return fmt.Errorf("failed to load session %s: %w", askSessionID, err)
			}
		}
		msg, err := manager.SendMessage(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(msg.Text)
		for _, src := range msg.Sources {
			if src.ChunkID != nil {
				fmt.Printf("  • %s (chunk %d)\n", src.Document, *src.ChunkID)
			} else {
				fmt.Printf("  • %s\n", src.Document)
			}
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List chat sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := manager.Refresh(cmd.Context()); err != nil {
			return err
		}
		sessions := manager.Sessions()
		if len(sessions) == 0 {
			fmt.Println("No sessions yet.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tUPDATED")
		for _, s := range sessions {
			updated := ""
			if s.Timestamp > 0 {
				updated = time.UnixMilli(s.Timestamp).Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Title, updated)
		}
		return w.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := manager.LoadSession(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to load session %s: %w", args[0], err)
		}
		cur, ok := manager.Current()
		if !ok {
			return fmt.Errorf("session %s not available", args[0])
		}
		fmt.Printf("%s\n\n", cur.Title)
		for _, msg := range cur.Messages {
			who := "You"
			if msg.Role == session.RoleBot {
				who = "docchat"
			}
			fmt.Printf("%s: %s\n", who, msg.Text)
			for _, src := range msg.Sources {
				if src.ChunkID != nil {
					fmt.Printf("    • %s (chunk %d)\n", src.Document, *src.ChunkID)
				} else {
					fmt.Printf("    • %s\n", src.Document)
				}
			}
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a chat session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !rmYes && !confirm(fmt.Sprintf("Delete session %s?", args[0])) {
			fmt.Println("Aborted.")
			return nil
		}
		if err := manager.DeleteSession(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete session %s: %w", args[0], err)
		}
		fmt.Printf("Deleted session %s\n", args[0])
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <path>...",
	Short: "Upload documents for ingestion",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			name := filepath.Base(path)
			serverMsg, err := manager.UploadFile(cmd.Context(), name, f)
			_ = f.Close()
			if err != nil {
				return fmt.Errorf("upload %s: %w", name, err)
			}
			if serverMsg == "" {
				serverMsg = "uploaded"
			}
			fmt.Printf("✅ %s: %s\n", name, serverMsg)
		}
		return nil
	},
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List uploaded documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := manager.RefreshFiles(cmd.Context()); err != nil {
			return err
		}
		names := manager.Files()
		if len(names) == 0 {
			fmt.Println("No files uploaded.")
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Delete an uploaded document and its index data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if !rmYes && !confirm(fmt.Sprintf("Delete %s? Queries referencing this document will break.", name)) {
			fmt.Println("Aborted.")
			return nil
		}
		if err := manager.DeleteFile(cmd.Context(), name); err != nil {
			return fmt.Errorf("failed to delete %s: %w", name, err)
		}
		fmt.Printf("Deleted %s\n", name)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend status and chunk count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := client.Status(cmd.Context())
		if err != nil {
			return err
		}
		state := "Stopped"
		if st.Running() {
			state = "Active"
		}
		fmt.Printf("%s · %d chunks\n", state, st.ChunkCount)
		return nil
	},
}

// confirm is the interactive yes/no gate required before destructive calls.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func init() {
	askCmd.Flags().StringVarP(&askSessionID, "session", "s", "", "Continue an existing session instead of starting a new one")
	deleteCmd.Flags().BoolVarP(&rmYes, "yes", "y", false, "Skip the confirmation prompt")
	rmCmd.Flags().BoolVarP(&rmYes, "yes", "y", false, "Skip the confirmation prompt")

	rootCmd.AddCommand(askCmd, historyCmd, showCmd, deleteCmd, uploadCmd, filesCmd, rmCmd, statusCmd)
}

func main() {
	rootCmd.SetContext(context.Background())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
