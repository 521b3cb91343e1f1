package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kalambet/docchat/internal/chat"
	"github.com/kalambet/docchat/internal/tui"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a PDF or HTML document for indexing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("uploading %s", args[0])
		doc, err := client.uploadDocument(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		printSuccess("uploaded %s", doc.Name)
		printStatus("id", "%s", doc.ID)
		printStatus("status", "%s", doc.Status)
		fmt.Fprintln(os.Stderr, "\nIndexing runs in the background; check with \"docchat docs show "+doc.ID+"\".")
		return nil
	},
}

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage uploaded documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		docs, err := client.listDocuments(cmd.Context())
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("No documents. Upload one with \"docchat upload <file>\".")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tCREATED")
		for _, doc := range docs {
			created := doc.CreatedAt
			if ts, err := time.Parse(time.RFC3339Nano, doc.CreatedAt); err == nil {
				created = ts.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", doc.ID, doc.Name, statusLabel(doc.Status), created)
		}
		return tw.Flush()
	},
}

var docsShowCmd = &cobra.Command{
	Use:   "show <document-id>",
	Short: "Show a document's indexing status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		doc, err := client.getDocument(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		printStatus("id", "%s", doc.ID)
		printStatus("name", "%s", doc.Name)
		printStatus("status", "%s", statusLabel(doc.Status))
		printStatus("created", "%s", doc.CreatedAt)
		return nil
	},
}

var docsRmCmd = &cobra.Command{
	Use:   "rm <document-id>",
	Short: "Delete a document and its index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if err := client.deleteDocument(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("deleted %s", args[0])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check server health and document counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/health")
		if err != nil {
			printError("server not reachable at %s", client.baseURL)
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != 200 {
			printWarning("server at %s returned %d", client.baseURL, resp.StatusCode)
			return nil
		}
		printSuccess("server healthy at %s", client.baseURL)

		docs, err := client.listDocuments(cmd.Context())
		if err != nil {
			return err
		}
		counts := map[string]int{}
		for _, doc := range docs {
			counts[doc.Status]++
		}
		printStatus("documents", "%d", len(docs))
		for _, status := range []string{"success", "processing", "pending", "failed"} {
			if counts[status] > 0 {
				printStatus(status, "%d", counts[status])
			}
		}
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <document-id>",
	Short: "Chat with a document interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		doc, err := client.getDocument(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		switch doc.Status {
		case "success":
		case "failed":
			return fmt.Errorf("document %s failed indexing and cannot be chatted with", doc.Name)
		default:
			printWarning("document %s is still indexing (%s); answers may miss context", doc.Name, doc.Status)
		}

		session := chat.NewSession(client, doc.ID, 10)
		program := tea.NewProgram(tui.New(session, doc.Name), tea.WithAltScreen())
		_, err = program.Run()
		return err
	},
}

func statusLabel(status string) string {
	switch status {
	case "success":
		return colorize(colorGreen, status)
	case "failed":
		return colorize(colorRed, status)
	case "processing":
		return colorize(colorYellow, status)
	default:
		return status
	}
}

func init() {
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsShowCmd)
	docsCmd.AddCommand(docsRmCmd)
}
