// Package webhook normalizes provider callbacks into typed events and routes
// them through the instance/contact/message pipeline. The provider posts one
// envelope per callback; everything downstream works on the parsed event, so
// provider payload quirks stay in this file.
package webhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/matriculahub/go-intake-pipeline/internal/domain"
)

// Envelope is the outer provider callback shape.
type Envelope struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

// Event is the tagged union of everything the provider can tell us.
type Event interface {
	isEvent()
}

// ConnectionUpdate reports a connection state change for an instance.
type ConnectionUpdate struct {
	InstanceKey string
	// Status is the provider's state already mapped to our lifecycle values
	// when recognized; unrecognized values pass through verbatim.
	Status domain.InstanceStatus
}

// QRUpdate carries a new pairing QR code, or clears it when empty.
type QRUpdate struct {
	InstanceKey string
	QRCode      *string
}

// InboundMessage is one normalized message from a messages.upsert batch.
type InboundMessage struct {
	ExternalID  string
	From        string
	SenderName  string
	FromMe      bool
	Content     string
	MediaKind   *string
	MediaURL    *string
	ClaimedType domain.DocumentType
	Timestamp   time.Time
}

// MessagesUpsert is a batch of new messages.
type MessagesUpsert struct {
	InstanceKey string
	Items       []InboundMessage
}

// MessageStatus is a delivery acknowledgement for a previously seen message.
type MessageStatus struct {
	InstanceKey string
	ExternalID  string
	Status      domain.DeliveryStatus
	Timestamp   time.Time
}

// Unrecognized is any event name we do not handle. It is acknowledged and
// dropped, never an error.
type Unrecognized struct {
	Name string
}

func (ConnectionUpdate) isEvent() {}
func (QRUpdate) isEvent()         {}
func (MessagesUpsert) isEvent()   {}
func (MessageStatus) isEvent()    {}
func (Unrecognized) isEvent()     {}

// Wire shapes for the provider's data payloads.

type wireConnection struct {
	State string `json:"state"`
}

type wireQR struct {
	QRCode struct {
		Base64 string `json:"base64"`
	} `json:"qrcode"`
}

type wireMessage struct {
	Key struct {
		ID        string `json:"id"`
		RemoteJid string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
	} `json:"key"`
	PushName string `json:"pushName"`
	Message  struct {
		Conversation string `json:"conversation"`
	} `json:"message"`
	MediaType        string `json:"mediaType,omitempty"`
	MediaURL         string `json:"mediaUrl,omitempty"`
	DocumentType     string `json:"documentType,omitempty"`
	MessageTimestamp int64  `json:"messageTimestamp"`
}

type wireUpsert struct {
	Messages []wireMessage `json:"messages"`
}

type wireStatus struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	Status           string `json:"status"`
	MessageTimestamp int64  `json:"messageTimestamp"`
}

// mapConnectionState translates provider connection states; unrecognized
// values pass through so the router can store them verbatim.
func mapConnectionState(s string) domain.InstanceStatus {
	switch strings.ToLower(s) {
	case "open":
		return domain.InstanceConnected
	case "close", "closed":
		return domain.InstanceDisconnected
	case "connecting":
		return domain.InstanceConnecting
	default:
		return domain.InstanceStatus(s)
	}
}

// mapDeliveryStatus translates provider acknowledgement codes.
func mapDeliveryStatus(s string) (domain.DeliveryStatus, bool) {
	switch strings.ToUpper(s) {
	case "SERVER_ACK", "SENT":
		return domain.DeliverySent, true
	case "DELIVERY_ACK", "DELIVERED":
		return domain.DeliveryDelivered, true
	case "READ":
		return domain.DeliveryRead, true
	case "ERROR", "FAILED":
		return domain.DeliveryFailed, true
	default:
		return "", false
	}
}

func tsToTime(ts int64) time.Time {
	if ts == 0 {
		return time.Now().UTC()
	}
	return time.Unix(ts, 0).UTC()
}

// ParseEvent turns one provider envelope payload into a typed event. Parsing
// never fails: malformed payloads degrade to zero-valued events the router
// rejects with structured codes, and unknown names become Unrecognized.
func ParseEvent(name, instanceKey string, data json.RawMessage) Event {
	switch name {
	case "connection.update":
		var w wireConnection
		_ = json.Unmarshal(data, &w)
		return ConnectionUpdate{InstanceKey: instanceKey, Status: mapConnectionState(w.State)}
	case "qrcode.updated":
		var w wireQR
		_ = json.Unmarshal(data, &w)
		var qr *string
		if w.QRCode.Base64 != "" {
			qr = &w.QRCode.Base64
		}
		return QRUpdate{InstanceKey: instanceKey, QRCode: qr}
	case "messages.upsert":
		var w wireUpsert
		_ = json.Unmarshal(data, &w)
		items := make([]InboundMessage, 0, len(w.Messages))
		for _, m := range w.Messages {
			item := InboundMessage{
				ExternalID: m.Key.ID,
				From:       m.Key.RemoteJid,
				SenderName: m.PushName,
				FromMe:     m.Key.FromMe,
				Content:    m.Message.Conversation,
				Timestamp:  tsToTime(m.MessageTimestamp),
			}
			if m.MediaType != "" {
				kind, url := m.MediaType, m.MediaURL
				item.MediaKind = &kind
				item.MediaURL = &url
			}
			if m.DocumentType != "" {
				item.ClaimedType = domain.DocumentType(m.DocumentType)
			}
			items = append(items, item)
		}
		return MessagesUpsert{InstanceKey: instanceKey, Items: items}
	case "messages.update":
		var w wireStatus
		_ = json.Unmarshal(data, &w)
		status, ok := mapDeliveryStatus(w.Status)
		if !ok {
			return Unrecognized{Name: name + ":" + w.Status}
		}
		return MessageStatus{
			InstanceKey: instanceKey,
			ExternalID:  w.Key.ID,
			Status:      status,
			Timestamp:   tsToTime(w.MessageTimestamp),
		}
	default:
		return Unrecognized{Name: name}
	}
}
