// Package service implements the client side of the upload/download
// protocol. All encryption and decryption happens here, before anything
// touches the network; the server only ever receives ciphertext.
package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/skystar-p/hako/internal/common"
	"github.com/skystar-p/hako/internal/cryptox"
)

// ErrTruncated reports a download stream that ended before the
// authenticated terminal chunk. Only client-side decryption can detect
// this; the server serves whatever bytes it has, faithfully.
var ErrTruncated = errors.New("stream truncated before terminal chunk")

type Client struct {
	baseURL   string
	http      *http.Client
	chunkSize int64
}

func New(baseURL string, chunkSize int64) *Client {
	return &Client{
		baseURL:   baseURL,
		http:      &http.Client{},
		chunkSize: chunkSize,
	}
}

// Upload encrypts and streams the plaintext from r. On any failure after
// the session started, the upload is aborted server-side so no partial
// state remains. Returns the allocated file id.
func (c *Client) Upload(ctx context.Context, r io.Reader, filename string, passphrase []byte) (string, error) {
	salt, err := cryptox.GenerateSalt()
	if err != nil {
		return "", err
	}
	streamNonce, err := cryptox.GenerateStreamNonce()
	if err != nil {
		return "", err
	}
	filenameNonce, err := cryptox.GenerateFilenameNonce()
	if err != nil {
		return "", err
	}

	key, err := cryptox.DeriveKey(passphrase, salt)
	if err != nil {
		return "", err
	}
	defer cryptox.Wipe(key)

	encryptedFilename, err := cryptox.EncryptFilename([]byte(filename), key, filenameNonce)
	if err != nil {
		return "", err
	}

	id, err := c.prepareUpload(ctx, salt, filenameNonce, streamNonce, encryptedFilename)
	if err != nil {
		return "", err
	}

	if err := c.uploadChunks(ctx, id, key, streamNonce, r); err != nil {
		// best effort; the server sweep catches leftovers anyway
		_ = c.abort(ctx, id)
		return "", err
	}

	if err := c.finalize(ctx, id); err != nil {
		_ = c.abort(ctx, id)
		return "", err
	}

	return id, nil
}

// uploadChunks reads plaintext blocks and sends one ciphertext chunk each,
// reading one block ahead so the terminal chunk can be flagged. An empty
// input still produces a single flagged chunk.
func (c *Client) uploadChunks(ctx context.Context, id string, key, streamNonce []byte, r io.Reader) error {
	encryptor, err := cryptox.NewStreamEncryptor(key, streamNonce)
	if err != nil {
		return err
	}

	var seq int64
	current, err := readBlock(r, c.chunkSize)
	if err != nil {
		return err
	}

	for {
		next, err := readBlock(r, c.chunkSize)
		if err != nil {
			return err
		}
		last := len(next) == 0

		ciphertext, err := encryptor.Encrypt(current, last)
		if err != nil {
			return err
		}
		if err := c.appendChunk(ctx, id, seq, last, ciphertext); err != nil {
			return err
		}
		if last {
			return nil
		}
		seq++
		current = next
	}
}

// Metadata holds the decrypted file metadata of a completed upload.
type Metadata struct {
	Filename      string
	Salt          []byte
	StreamNonce   []byte
	FilenameNonce []byte
	Size          int64
	ChunkSize     int64
}

// Download fetches and decrypts the file, writing plaintext to w. The
// decrypted filename is returned. A stream that fails authentication or
// ends before its flagged terminal chunk yields an error and no trailing
// partial plaintext beyond the already-verified chunks.
func (c *Client) Download(ctx context.Context, id string, passphrase []byte, w io.Writer) (string, error) {
	meta, err := c.fetchMetadata(ctx, id)
	if err != nil {
		return "", err
	}

	key, err := cryptox.DeriveKey(passphrase, meta.Salt)
	if err != nil {
		return "", err
	}
	defer cryptox.Wipe(key)

	filename, err := cryptox.DecryptFilename([]byte(meta.Filename), key, meta.FilenameNonce)
	if err != nil {
		return "", err
	}

	if err := c.downloadChunks(ctx, id, key, meta, w); err != nil {
		return "", err
	}

	return string(filename), nil
}

func (c *Client) downloadChunks(ctx context.Context, id string, key []byte, meta *Metadata, w io.Writer) error {
	decryptor, err := cryptox.NewStreamDecryptor(key, meta.StreamNonce)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/download?id="+url.QueryEscape(id), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status %d", resp.StatusCode)
	}

	blockSize := meta.ChunkSize + cryptox.Overhead
	remaining := meta.Size

	for {
		last := remaining <= blockSize
		size := blockSize
		if last {
			size = remaining
		}

		block := make([]byte, size)
		if _, err := io.ReadFull(resp.Body, block); err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}

		plaintext, err := decryptor.Decrypt(block, last)
		if err != nil {
			return err
		}
		if _, err := w.Write(plaintext); err != nil {
			return err
		}

		if last {
			break
		}
		remaining -= blockSize
	}

	if !decryptor.Finished() {
		return ErrTruncated
	}
	return nil
}

func (c *Client) fetchMetadata(ctx context.Context, id string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/metadata?id="+url.QueryEscape(id), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, common.ErrorNotFound
	case http.StatusConflict:
		return nil, common.ErrorNotReady
	case http.StatusLocked:
		return nil, common.ErrorConflict
	default:
		return nil, fmt.Errorf("metadata status %d", resp.StatusCode)
	}

	var body struct {
		Filename      string `json:"filename"`
		Salt          string `json:"salt"`
		StreamNonce   string `json:"stream_nonce"`
		FilenameNonce string `json:"filename_nonce"`
		Size          int64  `json:"size"`
		ChunkSize     int64  `json:"chunk_size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	meta := &Metadata{Size: body.Size, ChunkSize: body.ChunkSize}
	if meta.Salt, err = base64.StdEncoding.DecodeString(body.Salt); err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	if meta.StreamNonce, err = base64.StdEncoding.DecodeString(body.StreamNonce); err != nil {
		return nil, fmt.Errorf("decode stream nonce: %w", err)
	}
	if meta.FilenameNonce, err = base64.StdEncoding.DecodeString(body.FilenameNonce); err != nil {
		return nil, fmt.Errorf("decode filename nonce: %w", err)
	}
	filename, err := base64.StdEncoding.DecodeString(body.Filename)
	if err != nil {
		return nil, fmt.Errorf("decode filename: %w", err)
	}
	meta.Filename = string(filename)
	return meta, nil
}

func (c *Client) prepareUpload(ctx context.Context, salt, filenameNonce, streamNonce, encryptedFilename []byte) (string, error) {
	resp, err := c.postMultipart(ctx, "/api/prepare_upload", map[string][]byte{
		"salt":           salt,
		"filename_nonce": filenameNonce,
		"stream_nonce":   streamNonce,
		"filename":       encryptedFilename,
		"chunk_size":     []byte(strconv.FormatInt(c.chunkSize, 10)),
	})
	if err != nil {
		return "", err
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &body); err != nil {
		return "", fmt.Errorf("decode prepare_upload response: %w", err)
	}
	if body.ID == "" {
		return "", errors.New("prepare_upload returned no id")
	}
	return body.ID, nil
}

func (c *Client) appendChunk(ctx context.Context, id string, seq int64, last bool, content []byte) error {
	isLast := []byte("0")
	if last {
		isLast = []byte("1")
	}
	_, err := c.postMultipart(ctx, "/api/upload", map[string][]byte{
		"id":      []byte(id),
		"seq":     []byte(strconv.FormatInt(seq, 10)),
		"is_last": isLast,
		"content": content,
	})
	return err
}

func (c *Client) finalize(ctx context.Context, id string) error {
	return c.postForm(ctx, "/api/finalize", id)
}

func (c *Client) abort(ctx context.Context, id string) error {
	return c.postForm(ctx, "/api/abort", id)
}

func (c *Client) postForm(ctx context.Context, path, id string) error {
	form := url.Values{"id": {id}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s status %d", path, resp.StatusCode)
	}
	return nil
}

func (c *Client) postMultipart(ctx context.Context, path string, fields map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, value := range fields {
		part, err := mw.CreateFormField(name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(value); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s status %d: %s", path, resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}

// readBlock reads up to size bytes, returning a zero-length slice at EOF.
func readBlock(r io.Reader, size int64) ([]byte, error) {
	block := make([]byte, size)
	n, err := io.ReadFull(r, block)
	if err == io.EOF {
		return nil, nil
	}
	if err == io.ErrUnexpectedEOF {
		return block[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return block, nil
}
