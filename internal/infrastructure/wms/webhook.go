package wms

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wmsync/backend/internal/domain/integration"
)

type nodeDecoder func(integration.ResourceType, json.RawMessage) (integration.ExternalRecord, error)

// nodeKeyFields names the JSON fields that make up the natural key of a
// provider node, per resource. Two fields build an inventory key.
type nodeKeyFields map[integration.ResourceType][]string

// decodeNodes decodes provider nodes one at a time. A node that fails to
// decode is returned as an UndecodableRecord keyed by whatever natural key
// can still be read from it, so the rest of the page is kept.
func decodeNodes(resource integration.ResourceType, raws []json.RawMessage, decode nodeDecoder, keys nodeKeyFields) ([]integration.ExternalRecord, error) {
	records := make([]integration.ExternalRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := decode(resource, raw)
		if errors.Is(err, integration.ErrUnsupportedResource) {
			return nil, err
		}
		if err != nil {
			rec = &integration.UndecodableRecord{
				Kind:  resource,
				Key:   lenientKey(raw, keys[resource]),
				Cause: err.Error(),
				Raw:   raw,
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// lenientKey reads the natural key fields of a node without its schema.
// Non-string values are used as their JSON text.
func lenientKey(raw json.RawMessage, fields []string) string {
	var obj map[string]json.RawMessage
	if len(fields) == 0 || json.Unmarshal(raw, &obj) != nil {
		return ""
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v := bytes.TrimSpace(obj[f])
		var str string
		if err := json.Unmarshal(v, &str); err != nil {
			str = string(v)
		}
		if str == "null" {
			str = ""
		}
		parts = append(parts, str)
	}
	if len(parts) == 2 {
		if parts[0] == "" && parts[1] == "" {
			return ""
		}
		return integration.InventoryKey(parts[0], parts[1])
	}
	return parts[0]
}

// translateNodes decodes a webhook data field holding either one record or
// an array of records. A payload that is not JSON at all rejects the
// delivery; single records that fail to decode become UndecodableRecord.
func translateNodes(resource integration.ResourceType, data json.RawMessage, decode nodeDecoder, keys nodeKeyFields) (integration.ResourceType, []integration.ExternalRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return resource, nil, fmt.Errorf("%w: empty %s payload", integration.ErrWebhookRejected, resource)
	}

	var raws []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return resource, nil, fmt.Errorf("%w: %s payload: %v", integration.ErrWebhookRejected, resource, err)
		}
	} else {
		if !json.Valid(trimmed) {
			return resource, nil, fmt.Errorf("%w: %s payload is not valid JSON", integration.ErrWebhookRejected, resource)
		}
		raws = []json.RawMessage{trimmed}
	}

	records, err := decodeNodes(resource, raws, decode, keys)
	if err != nil {
		return resource, nil, fmt.Errorf("%w: %s: %v", integration.ErrWebhookRejected, resource, err)
	}
	return resource, records, nil
}
