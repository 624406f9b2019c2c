package webservice

import "encoding/base64"

// action_configuration travels over the wire as base64 text (spec §6)
// since it is an opaque byte blob interpreted only by the handler it is
// eventually routed to.
func encodeConfig(cfg []byte) string {
	if len(cfg) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(cfg)
}

func decodeConfig(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
