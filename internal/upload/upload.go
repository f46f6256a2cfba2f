// Package upload implements the HTTP side channel for file attachments.
// An upload is only valid after the owning message's id has been assigned;
// the session manager's CorrelateSend provides that id.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"parley/internal/models"

	"github.com/h2non/filetype"
)

type response struct {
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	Attachment *struct {
		AttachmentID int64  `json:"attachment_id"`
		Filename     string `json:"filename"`
		FileSize     int64  `json:"file_size"`
	} `json:"attachment,omitempty"`
}

type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// UploadAttachment posts one file for an acknowledged message and returns
// the attachment record the store should carry for it.
func (c *Client) UploadAttachment(ctx context.Context, token string, messageID int64, filename string, data []byte) (models.Attachment, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", sniffContentType(data))
	part, err := w.CreatePart(header)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return models.Attachment{}, fmt.Errorf("failed to write file part: %w", err)
	}
	if err := w.WriteField("token", token); err != nil {
		return models.Attachment{}, fmt.Errorf("failed to write token field: %w", err)
	}
	if err := w.WriteField("message_id", strconv.FormatInt(messageID, 10)); err != nil {
		return models.Attachment{}, fmt.Errorf("failed to write message_id field: %w", err)
	}
	if err := w.Close(); err != nil {
		return models.Attachment{}, err
	}

	url := c.baseURL + "/api/upload-attachment"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return models.Attachment{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("upload request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return parseResponse(resp)
}

func parseResponse(resp *http.Response) (models.Attachment, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to read upload response: %w", err)
	}

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.Attachment{}, fmt.Errorf("malformed upload response (status %d): %w", resp.StatusCode, err)
	}
	if !r.Success || r.Attachment == nil {
		msg := r.Error
		if msg == "" {
			msg = fmt.Sprintf("upload rejected with status %d", resp.StatusCode)
		}
		return models.Attachment{}, fmt.Errorf("upload failed: %s", msg)
	}

	return models.Attachment{
		ID:       r.Attachment.AttachmentID,
		Filename: r.Attachment.Filename,
		FileSize: r.Attachment.FileSize,
		URL: fmt.Sprintf("/api/download-attachment/%d/%s",
			r.Attachment.AttachmentID, r.Attachment.Filename),
	}, nil
}

// sniffContentType identifies the payload by its magic bytes; unknown types
// go up as generic binary and the server decides what to do with them.
func sniffContentType(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "application/octet-stream"
	}
	return kind.MIME.Value
}
