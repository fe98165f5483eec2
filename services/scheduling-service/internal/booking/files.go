package booking

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/auth"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/files"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/model"
)

type Upload struct {
	SessionID   string
	FileName    string
	ContentType string
	Body        io.Reader
}

// AttachFile stores an upload against a session the caller can access.
func (s *Service) AttachFile(ctx context.Context, up Upload) (model.SessionFile, error) {
	if s.store == nil {
		return model.SessionFile{}, apperr.New(apperr.Internal, "file uploads are not configured")
	}
	name := strings.TrimSpace(up.FileName)
	if name == "" {
		return model.SessionFile{}, apperr.New(apperr.BadRequest, "file name is required")
	}
	sess, err := s.GetSession(ctx, up.SessionID)
	if err != nil {
		return model.SessionFile{}, err
	}
	id, _ := auth.IdentityFromContext(ctx)

	stored, err := s.store.Save(ctx, "sessions/"+sess.ID, name, up.Body)
	if errors.Is(err, files.ErrTooLarge) {
		return model.SessionFile{}, apperr.New(apperr.BadRequest, "file too large")
	}
	if err != nil {
		return model.SessionFile{}, err
	}
	return s.repos.Files.Create(ctx, model.SessionFile{
		SessionID:   sess.ID,
		UploadedBy:  id.UserID,
		FileName:    name,
		ContentType: up.ContentType,
		SizeBytes:   stored.Size,
		URL:         stored.URL,
	})
}

func (s *Service) ListFiles(ctx context.Context, sessionID string) ([]model.SessionFile, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.repos.Files.ListBySession(ctx, sess.ID)
}
