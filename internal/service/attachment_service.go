package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

const (
	DefaultMaxUploadSize = 10 << 20
	sniffLen             = 3072
	octetStream          = "application/octet-stream"
)

var DefaultAllowedExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".pdf"}

var contentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
}

type UploadLimits struct {
	MaxSize           int64
	AllowedExtensions []string
}

type AttachmentService struct {
	messages    MessageStore
	attachments AttachmentStore
	blobs       BlobStore
	rec         Recorder
	log         *slog.Logger

	maxSize int64
	allowed map[string]struct{}
}

func NewAttachmentService(messages MessageStore, attachments AttachmentStore, blobs BlobStore, rec Recorder, log *slog.Logger, limits UploadLimits) *AttachmentService {
	if limits.MaxSize <= 0 {
		limits.MaxSize = DefaultMaxUploadSize
	}
	if len(limits.AllowedExtensions) == 0 {
		limits.AllowedExtensions = DefaultAllowedExtensions
	}
	if log == nil {
		log = slog.Default()
	}
	allowed := lo.SliceToMap(limits.AllowedExtensions, func(ext string) (string, struct{}) {
		return normalizeExt(ext), struct{}{}
	})
	return &AttachmentService{
		messages:    messages,
		attachments: attachments,
		blobs:       blobs,
		rec:         orNop(rec),
		log:         log.With("component", "attachments"),
		maxSize:     limits.MaxSize,
		allowed:     allowed,
	}
}

type UploadInput struct {
	MessageID   int64
	FileName    string
	ContentType string
	// Size as declared by the client; the stream is still capped.
	Size int64
	Body io.Reader
}

// Upload validates, stores the bytes and records the attachment.
func (s *AttachmentService) Upload(ctx context.Context, p domain.Principal, in UploadInput) (*domain.Attachment, error) {
	if p.UserID == 0 {
		return nil, domain.ErrUnauthorized
	}
	ext := normalizeExt(filepath.Ext(in.FileName))
	if _, ok := s.allowed[ext]; !ok || ext == "" {
		return nil, fmt.Errorf("%w: invalid file type, allowed: %s", domain.ErrValidation, strings.Join(s.Allowed(), ", "))
	}
	if in.Size <= 0 || in.Body == nil {
		return nil, fmt.Errorf("%w: no file uploaded", domain.ErrValidation)
	}
	if in.Size > s.maxSize {
		return nil, s.tooLarge()
	}
	ok, err := s.messages.Exists(ctx, in.MessageID)
	if err != nil {
		return nil, persistErr("check message", err)
	}
	if !ok {
		return nil, fmt.Errorf("message %d: %w", in.MessageID, domain.ErrNotFound)
	}

	body := io.LimitReader(in.Body, s.maxSize+1)
	ctype := strings.TrimSpace(in.ContentType)
	if ctype == "" || ctype == octetStream {
		head := make([]byte, sniffLen)
		n, err := io.ReadFull(body, head)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return nil, fmt.Errorf("%w: read upload: %v", domain.ErrValidation, err)
		}
		head = head[:n]
		ctype = mimetype.Detect(head).String()
		body = io.MultiReader(bytes.NewReader(head), body)
	}

	token, size, err := s.blobs.Put(ctx, uuid.NewString()+ext, body)
	if err != nil {
		return nil, persistErr("store file", err)
	}
	if size > s.maxSize || size == 0 {
		s.discard(ctx, token)
		if size == 0 {
			return nil, fmt.Errorf("%w: no file uploaded", domain.ErrValidation)
		}
		return nil, s.tooLarge()
	}

	a := &domain.Attachment{
		MessageID:    in.MessageID,
		FileName:     filepath.Base(in.FileName),
		ContentType:  ctype,
		StorageToken: token,
		Size:         size,
	}
	if err := s.attachments.Create(ctx, a); err != nil {
		s.discard(ctx, token)
		return nil, persistErr("create attachment", err)
	}
	s.rec.Uploaded(size)
	s.log.Info("attachment stored", "attachment_id", a.ID, "message_id", a.MessageID, "size", size, "type", ctype)
	return a, nil
}

// Open resolves an attachment to its bytes and content type.
func (s *AttachmentService) Open(ctx context.Context, id int64) (*domain.Attachment, io.ReadCloser, string, error) {
	a, err := s.attachments.Get(ctx, id)
	if err != nil {
		return nil, nil, "", persistErr("get attachment", err)
	}
	rc, err := s.blobs.Open(ctx, a.StorageToken)
	if err != nil {
		return nil, nil, "", persistErr("open file", err)
	}
	ctype := a.ContentType
	if ctype == "" {
		ctype = ContentTypeFor(a.StorageToken)
	}
	return a, rc, ctype, nil
}

func (s *AttachmentService) MaxSize() int64 { return s.maxSize }

func (s *AttachmentService) Allowed() []string {
	out := lo.Keys(s.allowed)
	slices.Sort(out)
	return out
}

func (s *AttachmentService) tooLarge() error {
	return fmt.Errorf("%w: file size exceeds the maximum limit of %dMB", domain.ErrValidation, s.maxSize>>20)
}

func (s *AttachmentService) discard(ctx context.Context, token string) {
	if err := s.blobs.Delete(ctx, token); err != nil {
		s.log.Warn("discard stored file", "token", token, "err", err)
	}
}

// ContentTypeFor infers a content type from the file extension.
func ContentTypeFor(name string) string {
	if ct, ok := contentTypes[normalizeExt(filepath.Ext(name))]; ok {
		return ct
	}
	return octetStream
}

func DownloadURL(id int64) string {
	return "/api/files/download/" + strconv.FormatInt(id, 10)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
