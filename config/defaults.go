package config

import "dario.cat/mergo"

func boolPtr(b bool) *bool { return &b }

// DefaultSource carries every default the engine relies on. Descriptor files
// only need to state what differs.
func DefaultSource() Source {
	return Source{
		ConfigVersion: CurrentConfigVersion,
		Engine: Engine{
			Type:            EngineHTTP,
			TimeoutS:        15,
			VerifySSL:       boolPtr(true),
			NavTimeoutS:     30,
			RenderTimeoutS:  10,
			BlockResources:  boolPtr(true),
			PoolConnections: 10,
			PoolMaxsize:     20,
			Burst:           1,
			MaxRetries:      3,
			BackoffMode:     BackoffExp,
			BackoffBaseS:    0.5,
			RetryOnStatus:   []int{429, 500, 502, 503, 504},
			MinTextLen:      200,
		},
		Discovery: Discovery{
			Dedupe: Dedupe{
				ContentFields:    []string{"title", "text"},
				ContentPrefixLen: 256,
				Store:            "memory",
			},
		},
		Storage: Storage{ItemsFormat: FormatJSONL},
	}
}

// ApplyDefaults fills every unset field of s from DefaultSource. A field
// counts as unset when it holds its zero value, so a numeric field set
// explicitly to 0 (for example max_retries: 0) also takes the default.
func ApplyDefaults(s *Source) {
	defaults := DefaultSource()
	// mergo only fills zero-value destination fields. It dereferences
	// pointers, so an explicit *bool false would read as unset; those flags
	// are set aside around the merge and restored afterwards.
	verifySSL, blockResources := s.Engine.VerifySSL, s.Engine.BlockResources
	s.Engine.VerifySSL, s.Engine.BlockResources = nil, nil
	_ = mergo.Merge(s, defaults)
	if verifySSL != nil {
		s.Engine.VerifySSL = verifySSL
	}
	if blockResources != nil {
		s.Engine.BlockResources = blockResources
	}

	for i := range s.Entrypoints {
		ep := &s.Entrypoints[i]
		if ep.Paging != nil {
			if ep.Paging.Mode == "" {
				ep.Paging.Mode = "page"
			}
			if ep.Paging.Start == nil {
				start := 1
				if ep.Paging.Mode == "offset" {
					start = 0
				}
				ep.Paging.Start = &start
			}
			if ep.Paging.Pages == 0 {
				ep.Paging.Pages = 1
			}
			if ep.Paging.Step == 0 {
				ep.Paging.Step = 1
			}
		}
	}
}
