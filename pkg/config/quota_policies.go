package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/odvcencio/dbgate/pkg/quota"
)

// quotaPolicyDoc is the on-disk JSON shape of one spec.md §3 QuotaPolicy
// entry. Identity and CapSetID are pointers so a present-but-null field and
// an absent field both decode to nil — "not selected by this policy" — the
// distinction quota.Policy.Applies and quota.ScopeKey depend on.
type quotaPolicyDoc struct {
	Tenant   string         `json:"tenant"`
	Identity *string        `json:"identity"`
	CapSetID *string        `json:"capSetId"`
	Limits   map[string]int `json:"limits"`
}

// LoadQuotaPolicies reads the JSON array of QuotaPolicy records spec.md §6
// names as startup configuration. An empty path yields no policies (every
// request will fail closed with POLICY_MISSING, which is the correct
// fail-closed default for an unconfigured gateway).
func LoadQuotaPolicies(path string) ([]quota.Policy, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading quota policies file: %w", err)
	}

	var docs []quotaPolicyDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parsing quota policies JSON: %w", err)
	}

	policies := make([]quota.Policy, 0, len(docs))
	for i, d := range docs {
		if d.Tenant == "" {
			return nil, fmt.Errorf("quota policy %d: tenant must not be empty", i)
		}
		limits := make(map[quota.Dimension]int, len(d.Limits))
		for k, v := range d.Limits {
			dim := quota.Dimension(k)
			switch dim {
			case quota.DimRatePerMinute, quota.DimRatePer10Seconds, quota.DimConcurrencyMax, quota.DimCostPerMinute:
				limits[dim] = v
			default:
				return nil, fmt.Errorf("quota policy %d: unknown dimension %q", i, k)
			}
		}
		policies = append(policies, quota.Policy{
			Tenant:   d.Tenant,
			Identity: d.Identity,
			CapSetID: d.CapSetID,
			Limits:   limits,
		})
	}
	return policies, nil
}
