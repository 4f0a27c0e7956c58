package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"restock-api/pkg/services"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writePredictionsText(w io.Writer, result *services.PredictionResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "run_id: %s\tshop: %s\tpolicy: %s\n", result.RunID, result.Shop, result.Policy)
	header := "SKU\tVARIANT\tAVAILABLE\tINCOMING"
	for _, win := range result.Windows {
		header += fmt.Sprintf("\tSALES_%dD", win)
	}
	for _, win := range result.Windows {
		header += fmt.Sprintf("\tRESTOCK_%dD", win)
	}
	fmt.Fprintln(tw, header+"\tAVERAGE\tURGENCY")

	for _, r := range result.Records {
		line := fmt.Sprintf("%s\t%s / %s\t%d\t%d", r.SKU, r.ProductTitle, r.VariantTitle, r.AvailableStock, r.IncomingStock)
		for _, win := range result.Windows {
			line += fmt.Sprintf("\t%d", r.Sales[win].TotalSales)
		}
		for _, win := range result.Windows {
			line += fmt.Sprintf("\t%d", r.Restock[win])
		}
		fmt.Fprintf(tw, "%s\t%.2f\t%s\n", line, r.AverageRecommendedStock, r.Urgency)
	}
	writeWarnings(tw, result.Warnings)
	return tw.Flush()
}

func writeRangeSummaryText(w io.Writer, result *services.RangeSummaryResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "run_id: %s\tshop: %s\tdays: %d\n", result.RunID, result.Shop, result.Days)
	fmt.Fprintln(tw, "SKU\tVARIANT\tFROM\tTO\tTOTAL\tPER_DAY\tAVAILABLE\tINCOMING")
	for _, r := range result.Records {
		fmt.Fprintf(tw, "%s\t%s / %s\t%s\t%s\t%d\t%.2f\t%d\t%d\n",
			r.SKU, r.ProductTitle, r.VariantTitle, r.StartDate, r.EndDate, r.TotalSales, r.PerDaySales, r.AvailableStock, r.IncomingStock)
	}
	writeWarnings(tw, result.Warnings)
	return tw.Flush()
}

func writeWarnings(w io.Writer, warnings []string) {
	for _, msg := range warnings {
		fmt.Fprintf(w, "warning: %s\n", msg)
	}
}
