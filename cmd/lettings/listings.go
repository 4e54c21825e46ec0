package main

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/panyam/lettings"
)

func newPropertiesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "properties",
		Short: "Browse rental listings",
	}

	var q lettings.PropertySearch
	var furnished string
	search := &cobra.Command{
		Use:   "search",
		Short: "Search properties",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireLogin(ctx); err != nil {
				return err
			}
			switch furnished {
			case "":
			case "yes", "true":
				v := true
				q.Furnished = &v
			case "no", "false":
				v := false
				q.Furnished = &v
			default:
				return fmt.Errorf("--furnished must be yes or no")
			}

			page, err := a.api.SearchProperties(ctx, q)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tCITY\tBEDS\tRENT PCM\tAVAILABLE")
			for _, p := range page.Items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t£%d\t%s\n", p.ID, p.Title, p.City, p.Bedrooms, p.RentPCM, p.AvailableFrom.Format("2 Jan 2006"))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d results\n", len(page.Items), page.Total)
			return nil
		},
	}
	f := search.Flags()
	f.StringVar(&q.Location, "location", "", "City, postcode or street")
	f.IntVar(&q.MinRent, "min-rent", 0, "Minimum monthly rent")
	f.IntVar(&q.MaxRent, "max-rent", 0, "Maximum monthly rent")
	f.IntVar(&q.MinBedrooms, "beds", 0, "Minimum bedrooms")
	f.StringVar(&q.PropertyType, "type", "", "flat, house or studio")
	f.StringVar(&furnished, "furnished", "", "yes or no")
	f.IntVar(&q.Page, "page", 1, "Result page")
	f.IntVar(&q.PageSize, "page-size", 10, "Results per page")

	cmd.AddCommand(search)
	return cmd
}

func newApplicationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "applications",
		Aliases: []string{"apps"},
		Short:   "Manage tenancy applications",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireLogin(ctx); err != nil {
				return err
			}
			apps, err := a.api.ListApplications(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROPERTY\tSTATUS\tSTEP\tUPDATED")
			for _, app := range apps {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", app.ID, app.PropertyID, app.Status, app.Step, app.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireLogin(ctx); err != nil {
				return err
			}
			app, err := a.api.GetApplication(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Application %s for %s\n", app.ID, app.PropertyID)
			fmt.Fprintf(out, "Status:    %s (step %d)\n", app.Status, app.Step)
			fmt.Fprintf(out, "Applicant: %s %s <%s>\n", app.Applicant.FirstName, app.Applicant.LastName, app.Applicant.Email)
			if app.Guarantor != nil {
				fmt.Fprintf(out, "Guarantor: %s <%s>\n", app.Guarantor.Name, app.Guarantor.Email)
			}
			for _, ref := range app.References {
				fmt.Fprintf(out, "Reference: %s %s <%s> %s\n", ref.Kind, ref.Name, ref.Email, ref.Status)
			}
			for _, doc := range app.Documents {
				fmt.Fprintf(out, "Document:  %s (%s, %d bytes)\n", doc.Name, doc.Category, doc.Size)
			}
			return nil
		},
	})
	return cmd
}

func newUploadCmd(a *app) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "upload <application-id> <file>",
		Short: "Attach a document to an application",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireLogin(ctx); err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			name := filepath.Base(args[1])
			contentType := mime.TypeByExtension(filepath.Ext(name))
			if contentType == "" {
				contentType = http.DetectContentType(data)
			}

			doc, err := a.api.UploadDocument(ctx, args[0], category, name, contentType, data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s as %s (%d bytes)\n", doc.Name, doc.ID, doc.Size)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "other", "Document category: id, payslip, bank_statement or other")
	return cmd
}
