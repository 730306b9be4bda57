package deployplan

// IsLegacySpec reports whether spec uses the single-template format, i.e.
// has no "templates" key.
func IsLegacySpec(spec map[string]any) bool {
	_, ok := spec["templates"]
	return !ok
}

// ConvertFromLegacySpec upgrades an agent-reported legacy spec so it can be
// compared with a current spec. New-format specs are returned as is. Legacy
// agents only ever run one template, so a single entry is synthesized.
func ConvertFromLegacySpec(spec map[string]any) map[string]any {
	if !IsLegacySpec(spec) {
		return spec
	}

	out := make(map[string]any, len(spec)+1)
	for k, v := range spec {
		out[k] = v
	}
	out["templates"] = []any{
		map[string]any{
			"name":         spec["template"],
			"version":      spec["version"],
			"sha1":         spec["sha1"],
			"blobstore_id": spec["blobstore_id"],
		},
	}
	return out
}
