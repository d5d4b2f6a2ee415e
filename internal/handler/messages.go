package handler

import (
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/messaging-platform/internal/media"
	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

const multipartMemory = 8 << 20

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messageService *service.MessageService
	maxBodyBytes   int64
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler. maxBodyBytes bounds a
// multipart request including all of its attachments.
func NewMessageHandler(msgSvc *service.MessageService, maxBodyBytes int64, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		maxBodyBytes:   maxBodyBytes,
		logger:         log,
	}
}

// Send handles POST /api/v1/conversations/{id}/messages. The body is either
// JSON {"content": ...} or multipart with a content field and attachments.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, err := middleware.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	in := service.SendMessageInput{
		ConversationID: conversationID,
		SenderID:       middleware.GetUserID(ctx),
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		in.Content = r.FormValue("content")
		in.Attachments = uploadsFromForm(r.MultipartForm)
	} else {
		var req model.SendMessageRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		in.Content = req.Content
	}

	msg, err := h.messageService.Send(ctx, in)
	if err != nil {
		writeAppError(w, r, h.logger, err, "failed to send message")
		return
	}

	writeJSON(w, http.StatusCreated, &model.SendMessageResponse{Message: msg})
}

// uploadsFromForm collects files sent as "attachments" or "attachments[]".
func uploadsFromForm(form *multipart.Form) []media.Upload {
	var uploads []media.Upload
	for _, field := range []string{"attachments", "attachments[]"} {
		for _, fh := range form.File[field] {
			fh := fh
			uploads = append(uploads, media.Upload{
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Size:        fh.Size,
				Open: func() (io.ReadCloser, error) {
					f, err := fh.Open()
					if err != nil {
						return nil, err
					}
					return f, nil
				},
			})
		}
	}
	return uploads
}
