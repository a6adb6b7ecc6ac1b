package hub

import (
	"github.com/cwrk-planet/chat-service/internal/domain"
)

func (h *Hub) announceConnected(p domain.Principal) {
	if h.presence != nil {
		if err := h.presence.Online(p); err != nil {
			h.log.Warn("presence online", "user_id", p.UserID, "err", err)
		}
	}
	name := p.DisplayName
	if name == "" {
		name = p.Username
	}
	h.SendToAll(UserConnected{
		UserID:      int64(p.UserID),
		DisplayName: name,
		Avatar:      p.AvatarURL,
	})
}

func (h *Hub) announceDisconnected(p domain.Principal) {
	if h.presence != nil {
		if err := h.presence.Offline(p); err != nil {
			h.log.Warn("presence offline", "user_id", p.UserID, "err", err)
		}
	}
	h.SendToAll(UserDisconnected{UserID: int64(p.UserID)})
}
