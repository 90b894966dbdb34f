package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/receipt"
	"github.com/boddenberg/vehicle-tax-portal/internal/service"

	"github.com/spf13/cobra"
)

// newReceiptCmd renders a receipt saved as JSON (the body of
// GET /v1/sessions/{id}/receipt) without a running server.
func newReceiptCmd() *cobra.Command {
	var in, out, format string

	cmd := &cobra.Command{
		Use:   "receipt",
		Short: "Render a saved receipt to HTML or PDF",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(in)
			if err != nil {
				return fmt.Errorf("read receipt: %w", err)
			}
			var r domain.Receipt
			if err := json.Unmarshal(raw, &r); err != nil {
				return fmt.Errorf("decode receipt %s: %w", in, err)
			}
			if len(r.Cards) == 0 {
				return fmt.Errorf("receipt %s has no cards", in)
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			return renderReceipt(w, &r, format)
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "receipt JSON file")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&format, "format", service.FormatPDF, "output format: pdf or html")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func renderReceipt(w io.Writer, r *domain.Receipt, format string) error {
	renderer := receipt.NewRenderer()
	switch format {
	case service.FormatPDF:
		return renderer.RenderPDF(w, r)
	case service.FormatHTML:
		return renderer.RenderHTML(w, r)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
