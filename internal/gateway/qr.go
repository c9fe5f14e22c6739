package gateway

import "strings"

// QR-пейлоад от шлюза приходит либо голым base64, либо data-URL строкой
// (data:image/png;base64,....). Внутри системы храним только голый base64;
// UI сам добавляет префикс при отрисовке.

const dataURLMarker = ";base64,"

// NormalizeQR отрезает data-URL префикс, если он есть.
func NormalizeQR(payload string) string {
	if !strings.HasPrefix(payload, "data:") {
		return payload
	}
	idx := strings.Index(payload, dataURLMarker)
	if idx < 0 {
		return payload
	}
	return payload[idx+len(dataURLMarker):]
}

// AddDataURLPrefix — обратная операция для отдачи в UI.
func AddDataURLPrefix(qr string) string {
	if strings.HasPrefix(qr, "data:") {
		return qr
	}
	return "data:image/png;base64," + qr
}
