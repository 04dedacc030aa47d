package webhook

import (
	"encoding/json"
	"testing"

	"github.com/matriculahub/go-intake-pipeline/internal/domain"
)

func TestParseEventConnectionStates(t *testing.T) {
	tests := []struct {
		state string
		want  domain.InstanceStatus
	}{
		{"open", domain.InstanceConnected},
		{"close", domain.InstanceDisconnected},
		{"connecting", domain.InstanceConnecting},
		{"degraded", domain.InstanceStatus("degraded")},
	}
	for _, tt := range tests {
		raw, _ := json.Marshal(map[string]string{"state": tt.state})
		evt := ParseEvent("connection.update", "inst-1", raw)
		cu, ok := evt.(ConnectionUpdate)
		if !ok {
			t.Fatalf("ParseEvent(%q) = %T", tt.state, evt)
		}
		if cu.Status != tt.want {
			t.Errorf("state %q mapped to %q, want %q", tt.state, cu.Status, tt.want)
		}
		if cu.InstanceKey != "inst-1" {
			t.Errorf("instance key = %q", cu.InstanceKey)
		}
	}
}

func TestParseEventQREmptyClears(t *testing.T) {
	evt := ParseEvent("qrcode.updated", "inst-1", json.RawMessage(`{"qrcode":{"base64":""}}`))
	qr, ok := evt.(QRUpdate)
	if !ok {
		t.Fatalf("got %T", evt)
	}
	if qr.QRCode != nil {
		t.Errorf("empty qr payload should clear, got %v", *qr.QRCode)
	}
}

func TestParseEventUpsertBatch(t *testing.T) {
	raw := json.RawMessage(`{"messages":[
		{"key":{"id":"wamid-1","remoteJid":"5511999000001","fromMe":false},"pushName":"Maria","message":{"conversation":"oi"},"messageTimestamp":1724800000},
		{"key":{"id":"wamid-2","remoteJid":"5511999000001","fromMe":true},"message":{"conversation":"bom dia"},"mediaType":"image","mediaUrl":"https://x/y","documentType":"rg"}
	]}`)
	evt := ParseEvent("messages.upsert", "inst-1", raw)
	up, ok := evt.(MessagesUpsert)
	if !ok {
		t.Fatalf("got %T", evt)
	}
	if len(up.Items) != 2 {
		t.Fatalf("items = %d", len(up.Items))
	}
	first := up.Items[0]
	if first.ExternalID != "wamid-1" || first.FromMe || first.Content != "oi" || first.MediaKind != nil {
		t.Errorf("first = %+v", first)
	}
	if first.Timestamp.Unix() != 1724800000 {
		t.Errorf("timestamp = %v", first.Timestamp)
	}
	second := up.Items[1]
	if !second.FromMe || second.MediaKind == nil || *second.MediaKind != "image" {
		t.Errorf("second = %+v", second)
	}
	if second.ClaimedType != domain.DocTypeRG {
		t.Errorf("claimed type = %q", second.ClaimedType)
	}
}

func TestParseEventStatusMapping(t *testing.T) {
	tests := []struct {
		in   string
		want domain.DeliveryStatus
	}{
		{"SERVER_ACK", domain.DeliverySent},
		{"DELIVERY_ACK", domain.DeliveryDelivered},
		{"READ", domain.DeliveryRead},
		{"ERROR", domain.DeliveryFailed},
	}
	for _, tt := range tests {
		raw, _ := json.Marshal(map[string]any{"key": map[string]string{"id": "wamid-1"}, "status": tt.in})
		evt := ParseEvent("messages.update", "inst-1", raw)
		st, ok := evt.(MessageStatus)
		if !ok {
			t.Fatalf("ParseEvent(%q) = %T", tt.in, evt)
		}
		if st.Status != tt.want {
			t.Errorf("status %q mapped to %q, want %q", tt.in, st.Status, tt.want)
		}
	}

	// Unknown ack codes degrade to Unrecognized instead of guessing.
	raw, _ := json.Marshal(map[string]any{"key": map[string]string{"id": "wamid-1"}, "status": "PLAYED"})
	if _, ok := ParseEvent("messages.update", "inst-1", raw).(Unrecognized); !ok {
		t.Error("unknown status should parse as Unrecognized")
	}
}

func TestParseEventUnknownName(t *testing.T) {
	evt := ParseEvent("presence.update", "inst-1", nil)
	u, ok := evt.(Unrecognized)
	if !ok || u.Name != "presence.update" {
		t.Errorf("got %T %+v", evt, evt)
	}
}
