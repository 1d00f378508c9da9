package conversation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/phyntra/backend/internal/extraction"
	"github.com/phyntra/backend/internal/models"
)

const (
	// WelcomeText seeds every new conversation.
	WelcomeText = "Welcome to Phyntra! 👋 I'm here to help you process invoices. Upload your documents and I'll extract all the key information for you."

	// UnhandledIntentText answers any free-text message. It does not look
	// at what the user wrote.
	UnhandledIntentText = "I understand you want to process invoices. Please upload your documents using the upload button and I'll extract all the key information for you!"

	notFound = "Not found"

	retrySuggestion = "Please try again with a clearer image or different format."
	savedFooter     = "Data has been saved to the database. You can approve or reject this processing."
)

var kindExplanations = map[extraction.Kind]string{
	extraction.KindAPIKey:          "OpenAI API key not configured. Please contact administrator.",
	extraction.KindRateLimit:       "API rate limit reached. Please try again in a few minutes.",
	extraction.KindFileTooLarge:    "File is too large. Maximum size is 10MB.",
	extraction.KindUnsupportedType: "File type not supported. Please use PDF, JPG, or PNG files.",
}

func announceText(name string) string {
	return "📄 Uploaded: " + name
}

func processingText(name string) string {
	return fmt.Sprintf("🔄 Processing %s... Extracting invoice data now.", name)
}

func orNotFound(t models.Text) string {
	if strings.TrimSpace(t.String()) == "" {
		return notFound
	}
	return t.String()
}

// FormatSummary renders the bot message for a successful extraction.
func FormatSummary(fileName string, inv models.InvoiceExtraction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Successfully extracted data from %s!\n\n📋 **Invoice Details:**\n", fileName)
	fmt.Fprintf(&b, "• Invoice #: %s\n", orNotFound(inv.InvoiceNumber))
	fmt.Fprintf(&b, "• Date: %s\n", orNotFound(inv.InvoiceDate))
	fmt.Fprintf(&b, "• Vendor: %s\n", orNotFound(inv.VendorName))
	fmt.Fprintf(&b, "• Vendor GSTIN: %s\n", orNotFound(inv.VendorGSTIN))
	fmt.Fprintf(&b, "• Buyer: %s\n", orNotFound(inv.BuyerName))
	fmt.Fprintf(&b, "• Items: %d line item(s)\n", len(inv.Items))

	if len(inv.Items) > 0 {
		b.WriteString("\n**Line Items:**\n")
		for i, item := range inv.Items {
			// rows without a description keep their number but are not shown
			if item.Description == "" {
				continue
			}
			fmt.Fprintf(&b, "%d. %s", i+1, item.Description)
			if !item.Qty.IsZero() {
				fmt.Fprintf(&b, " (Qty: %s)", item.Qty)
			}
			if !item.Rate.IsZero() {
				fmt.Fprintf(&b, " @ ₹%s", item.Rate)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n" + savedFooter)
	return b.String()
}

// FormatFailure renders the bot message for a failed extraction.
func FormatFailure(fileName string, err error) string {
	kind := extraction.KindService
	msg := err.Error()
	var uerr *extraction.UploadError
	if errors.As(err, &uerr) {
		kind = uerr.Kind
		msg = uerr.Message
	}

	explanation, ok := kindExplanations[kind]
	if !ok {
		explanation = msg
	}
	return fmt.Sprintf("❌ Failed to process %s.\n\nError: %s\n\n%s", fileName, explanation, retrySuggestion)
}
