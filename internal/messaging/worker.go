package messaging

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/nosurfing/moderation/internal/moderation"
)

// checkTimeout bounds one asynchronous moderation request.
const checkTimeout = 10 * time.Second

// requestIDPattern keeps request ids to a single subject token.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Moderator screens one request.
type Moderator interface {
	Moderate(ctx context.Context, req moderation.ModerationRequest) moderation.ModerationResult
}

// ModerationReply is published on moderation.result.<request_id> and, for
// request-reply callers, on the message's reply subject.
type ModerationReply struct {
	RequestID string                       `json:"request_id,omitempty"`
	Result    *moderation.ModerationResult `json:"result,omitempty"`
	Error     string                       `json:"error,omitempty"`
}

// ModerationHandler returns a handler for moderation.check messages.
func ModerationHandler(mod Moderator, pub Publisher, logger *zap.Logger) nats.MsgHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(msg *nats.Msg) {
		var req moderation.ModerationRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			logger.Warn("malformed moderation request", zap.Error(err))
			reply(pub, msg.Reply, "", ModerationReply{Error: "malformed request"}, logger)
			return
		}

		if req.Type == "" {
			req.Type = moderation.ContentGeneral
		}
		if !req.Type.Valid() {
			reply(pub, msg.Reply, req.RequestID, ModerationReply{
				RequestID: req.RequestID,
				Error:     "unsupported content type " + string(req.Type),
			}, logger)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		res := mod.Moderate(ctx, req)
		cancel()

		if !res.IsApproved {
			logger.Info("content flagged",
				zap.String("request_id", req.RequestID),
				zap.String("moderation_id", res.ModerationID),
				zap.Strings("reasons", res.Reasons),
			)
		}
		reply(pub, msg.Reply, req.RequestID, ModerationReply{RequestID: req.RequestID, Result: &res}, logger)
	}
}

func reply(pub Publisher, replySubject, requestID string, body ModerationReply, logger *zap.Logger) {
	if requestID != "" && !requestIDPattern.MatchString(requestID) {
		logger.Warn("request_id is not a valid subject token, not publishing on it", zap.String("request_id", requestID))
		requestID = ""
	}
	if requestID == "" && replySubject == "" {
		logger.Warn("moderation request has neither request_id nor reply subject, dropping result")
		return
	}
	if requestID != "" {
		if err := PublishJSON(pub, SubjectModerationResult+"."+requestID, body); err != nil {
			logger.Warn("publish moderation result", zap.String("request_id", requestID), zap.Error(err))
		}
	}
	if replySubject != "" {
		if err := PublishJSON(pub, replySubject, body); err != nil {
			logger.Warn("reply moderation result", zap.String("reply", replySubject), zap.Error(err))
		}
	}
}
