package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/DRSN-tech/template-matcher/internal/infrastructure"
	"github.com/DRSN-tech/template-matcher/internal/usecase"
	"github.com/spf13/cobra"
)

var pushDir string

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Inspect and publish the template gallery",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List gallery templates in declaration order",
	RunE:  runTemplatesList,
}

var templatesPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload gallery images to MinIO",
	Long:  "Read every template image named in the manifest from --dir and upload it to the configured bucket.",
	RunE:  runTemplatesPush,
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesPushCmd)

	templatesPushCmd.Flags().StringVar(&pushDir, "dir", "assets/templates", "Directory with template images")
}

func runTemplatesList(cmd *cobra.Command, args []string) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tIMAGE")
	for i, t := range globalCore.Gallery.ListAll() {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, t.Name, t.ImageRef)
	}
	return tw.Flush()
}

func runTemplatesPush(cmd *cobra.Command, args []string) error {
	if globalCore.Uploader == nil {
		return fmt.Errorf("MinIO is not configured: set MINIO_ENDPOINT and BUCKET_NAME")
	}

	templates := globalCore.Gallery.ListAll()
	uploads := make([]usecase.TemplateImageUpload, 0, len(templates))
	for _, t := range templates {
		data, err := os.ReadFile(filepath.Join(pushDir, t.ImageRef))
		if err != nil {
			return fmt.Errorf("template %s: %w", t.Name, err)
		}

		mime := infrastructure.DetectMIME(data)
		if _, err := infrastructure.GetExtensionFromMIME(mime); err != nil {
			return fmt.Errorf("template %s: %s: %w", t.Name, mime, err)
		}

		uploads = append(uploads, usecase.NewTemplateImageUpload(t.Name, t.ImageRef, data, mime))
	}

	keys, err := globalCore.Uploader.UploadTemplates(cmd.Context(), uploads)
	if err != nil {
		return err
	}

	for _, key := range keys {
		fmt.Fprintln(cmd.OutOrStdout(), key)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d templates\n", len(keys))
	return nil
}
