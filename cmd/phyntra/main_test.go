package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/phyntra/backend/internal/conversation"
	"github.com/phyntra/backend/internal/models"
	"github.com/phyntra/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestUploadCommand(t *testing.T) {
	service := testutil.NewExtractionServer(t, func(name string, _ []byte) (int, interface{}) {
		if name == "bad.pdf" {
			return http.StatusOK, testutil.FailureBody("Rate limit exceeded")
		}
		return http.StatusOK, testutil.SuccessBody(testutil.SampleInvoice(), "abc123")
	})
	dir := t.TempDir()
	good := writeFile(t, dir, "good.pdf", []byte("%PDF-1.7\n"))
	bad := writeFile(t, dir, "bad.pdf", []byte("%PDF-1.7\n"))

	out, err := runCLI(t, "upload", "--url", service.URL, good, bad)

	require.EqualError(t, err, "1 of 2 files failed")
	assert.Contains(t, out, conversation.WelcomeText)
	assert.Contains(t, out, "📄 Uploaded: good.pdf")
	assert.Contains(t, out, "✅ Successfully extracted data from good.pdf!")
	assert.Contains(t, out, "1. Widget (Qty: 3) @ ₹50")
	assert.Contains(t, out, "❌ Failed to process bad.pdf.")
	assert.Contains(t, out, "API rate limit reached. Please try again in a few minutes.")
	assert.Less(t, strings.Index(out, "good.pdf!"), strings.Index(out, "Uploaded: bad.pdf"))

	received := service.Received()
	require.Len(t, received, 2)
	assert.Equal(t, "application/pdf", received[0].ContentType)
}

func TestUploadCommand_JSON(t *testing.T) {
	service := testutil.NewExtractionServer(t, func(string, []byte) (int, interface{}) {
		return http.StatusOK, testutil.SuccessBody(testutil.SampleInvoice(), "abc123")
	})
	path := writeFile(t, t.TempDir(), "inv.pdf", []byte("%PDF-1.7\n"))

	out, err := runCLI(t, "upload", "--json", "--url", service.URL, path)
	require.NoError(t, err)

	var msgs []models.Message
	require.NoError(t, json.Unmarshal([]byte(out), &msgs))
	require.Len(t, msgs, 4)
	require.NotNil(t, msgs[3].Attachment)
	assert.Equal(t, "INV-001", msgs[3].Attachment.Invoice.InvoiceNumber.String())
	assert.Equal(t, "abc123", msgs[3].Attachment.FileHash)
}

func TestUploadCommand_MissingFile(t *testing.T) {
	_, err := runCLI(t, "upload", "--url", "http://127.0.0.1:1", filepath.Join(t.TempDir(), "nope.pdf"))
	assert.ErrorContains(t, err, "reading")
}

func TestChatCommand(t *testing.T) {
	out, err := runCLI(t, "chat", "--reply-delay", "0s", "hello", "there")
	require.NoError(t, err)

	assert.Contains(t, out, "you:\nhello there\n")
	assert.Contains(t, out, conversation.UnhandledIntentText)
}

func TestChatCommand_Blank(t *testing.T) {
	_, err := runCLI(t, "chat", "--reply-delay", "0s", "   ")
	assert.EqualError(t, err, "message is empty")
}

func TestRootCommand_InvalidMode(t *testing.T) {
	_, err := runCLI(t, "chat", "--mode", "staging", "hi")
	assert.ErrorContains(t, err, "invalid extraction mode")
}
