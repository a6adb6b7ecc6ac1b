package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/hub"
	"github.com/cwrk-planet/chat-service/internal/service"
	httpmw "github.com/cwrk-planet/chat-service/internal/transport/http/middleware"
	"github.com/cwrk-planet/chat-service/pkg/httputil"
	"github.com/cwrk-planet/chat-service/pkg/logger"
)

// HeaderConnectionID — id ws-соединения автора; его исключаем из эха реакции.
const HeaderConnectionID = "X-Connection-ID"

type MessageService interface {
	Send(ctx context.Context, p domain.Principal, content string) (*domain.Message, error)
	Get(ctx context.Context, id int64) (*domain.Message, error)
	History(ctx context.Context, after string, limit int) ([]domain.Message, string, error)
	MarkRead(ctx context.Context, id int64) error
}

type ReactionService interface {
	Toggle(ctx context.Context, p domain.Principal, messageID int64, emoji string, scope service.Scope) (domain.ReactionOutcome, error)
	Remove(ctx context.Context, p domain.Principal, reactionID int64, scope service.Scope) (*domain.Reaction, error)
	List(ctx context.Context, messageID int64) ([]domain.Reaction, error)
}

type AttachmentService interface {
	Upload(ctx context.Context, p domain.Principal, in service.UploadInput) (*domain.Attachment, error)
	Open(ctx context.Context, id int64) (*domain.Attachment, io.ReadCloser, string, error)
	MaxSize() int64
}

type UserService interface {
	Get(ctx context.Context, id domain.UserID) (*domain.User, error)
}

// Connections resolves X-Connection-ID; *hub.Hub satisfies it.
type Connections interface {
	Lookup(id string) (*hub.Connection, error)
}

type Handler struct {
	Messages    MessageService
	Reactions   ReactionService
	Attachments AttachmentService
	Users       UserService
	Conns       Connections

	validate *validator.Validate
}

func NewHandler(msgs MessageService, reactions ReactionService, attachments AttachmentService, users UserService, conns Connections) *Handler {
	return &Handler{
		Messages:    msgs,
		Reactions:   reactions,
		Attachments: attachments,
		Users:       users,
		Conns:       conns,
		validate:    validator.New(),
	}
}

// GET /api/messages?cursor=&limit=
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			httputil.FromErr(w, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrValidation))
			return
		}
		limit = n
	}
	items, next, err := h.Messages.History(r.Context(), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		h.fail(w, r, "list messages", err)
		return
	}
	httputil.OK(w, historyResponse{
		Items:      lo.Map(items, func(m domain.Message, _ int) messageResponse { return toMessage(m) }),
		NextCursor: next,
	})
}

// POST /api/messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var in sendMessageRequest
	if err := h.bind(r, &in); err != nil {
		httputil.FromErr(w, err)
		return
	}
	m, err := h.Messages.Send(r.Context(), principal(r), in.Content)
	if err != nil {
		h.fail(w, r, "send message", err)
		return
	}
	httputil.Created(w, toMessage(*m))
}

// GET /api/messages/{id}
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.FromErr(w, err)
		return
	}
	m, err := h.Messages.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get message", err)
		return
	}
	httputil.OK(w, toMessage(*m))
}

// PUT /api/messages/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.FromErr(w, err)
		return
	}
	if err := h.Messages.MarkRead(r.Context(), id); err != nil {
		h.fail(w, r, "mark read", err)
		return
	}
	httputil.NoContent(w)
}

// GET /api/reactions/message/{id}
func (h *Handler) ListReactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.FromErr(w, err)
		return
	}
	list, err := h.Reactions.List(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list reactions", err)
		return
	}
	httputil.OK(w, lo.Map(list, func(re domain.Reaction, _ int) reactionResponse { return toReaction(re) }))
}

// POST /api/reactions — toggle: 201 с реакцией либо 204, если такая уже была и удалена.
func (h *Handler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	var in toggleReactionRequest
	if err := h.bind(r, &in); err != nil {
		httputil.FromErr(w, err)
		return
	}
	out, err := h.Reactions.Toggle(r.Context(), principal(r), in.MessageID, in.Emoji, h.scope(r, in.GroupID))
	if err != nil {
		h.fail(w, r, "toggle reaction", err)
		return
	}
	if out.Kind == domain.OutcomeRemoved {
		httputil.NoContent(w)
		return
	}
	httputil.Created(w, toReaction(out.Reaction))
}

// DELETE /api/reactions/{id}?group_id=
func (h *Handler) DeleteReaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.FromErr(w, err)
		return
	}
	if _, err := h.Reactions.Remove(r.Context(), principal(r), id, h.scope(r, r.URL.Query().Get("group_id"))); err != nil {
		h.fail(w, r, "delete reaction", err)
		return
	}
	httputil.NoContent(w)
}

// POST /api/files/upload (multipart: file, message_id)
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	// запас на заголовки multipart; точный лимит проверяет сервис
	r.Body = http.MaxBytesReader(w, r.Body, h.Attachments.MaxSize()+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			httputil.FromErr(w, fmt.Errorf("%w: file size exceeds the maximum limit of %dMB", domain.ErrValidation, h.Attachments.MaxSize()>>20))
			return
		}
		httputil.FromErr(w, fmt.Errorf("%w: invalid multipart form: %v", domain.ErrValidation, err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	messageID, err := strconv.ParseInt(strings.TrimSpace(r.FormValue("message_id")), 10, 64)
	if err != nil || messageID <= 0 {
		httputil.FromErr(w, fmt.Errorf("%w: message_id is required", domain.ErrValidation))
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		httputil.FromErr(w, fmt.Errorf("%w: no file uploaded", domain.ErrValidation))
		return
	}
	defer file.Close()

	a, err := h.Attachments.Upload(r.Context(), principal(r), service.UploadInput{
		MessageID:   messageID,
		FileName:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Size:        hdr.Size,
		Body:        file,
	})
	if err != nil {
		h.fail(w, r, "upload", err)
		return
	}
	httputil.OK(w, toAttachment(*a))
}

// GET /api/files/download/{id}
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.FromErr(w, err)
		return
	}
	a, body, ctype, err := h.Attachments.Open(r.Context(), id)
	if err != nil {
		h.fail(w, r, "download", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.FileName}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		logger.Ctx(r.Context()).Warn("download copy", "attachment_id", id, "err", err)
	}
}

// GET /api/users/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.Users.Get(r.Context(), principal(r).UserID)
	if err != nil {
		h.fail(w, r, "get user", err)
		return
	}
	httputil.OK(w, toUser(u))
}

func (h *Handler) bind(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON", domain.ErrValidation)
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
				return strings.ToLower(fe.Field()) + " " + fe.Tag()
			})
			return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

// fail пишет ошибку; 5xx дополнительно логируются с причиной.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if domain.Code(err) == "internal" {
		logger.Ctx(r.Context()).Error(op+" failed", "err", err)
	}
	httputil.FromErr(w, err)
}

func principal(r *http.Request) domain.Principal {
	p, _ := httpmw.PrincipalFromCtx(r.Context())
	return p
}

func (h *Handler) scope(r *http.Request, group string) service.Scope {
	return service.Scope{Group: strings.TrimSpace(group), ActorConn: h.actorConn(r)}
}

// actorConn принимает X-Connection-ID только если сокет принадлежит вызывающему;
// иначе чужой клиент мог бы скрыть от него событие.
func (h *Handler) actorConn(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(HeaderConnectionID))
	if id == "" || h.Conns == nil {
		return ""
	}
	c, err := h.Conns.Lookup(id)
	if err != nil {
		return ""
	}
	owner, ok := c.Principal()
	if !ok || owner.UserID != principal(r).UserID {
		logger.Ctx(r.Context()).Warn("ignoring foreign connection id", "conn_id", id, "user_id", principal(r).UserID)
		return ""
	}
	return id
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", domain.ErrValidation)
	}
	return id, nil
}
