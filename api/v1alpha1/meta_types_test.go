package v1alpha1

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTime_JSON(t *testing.T) {
	tests := []struct {
		name string
		time Time
		want string
	}{
		{name: "unsampled is null", time: Time{}, want: `{"t":null}`},
		{name: "sampled is RFC3339", time: Time{Time: time.Date(2025, 11, 3, 10, 30, 0, 0, time.UTC)}, want: `{"t":"2025-11-03T10:30:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(struct {
				T Time `json:"t"`
			}{tt.time})
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))

			var back struct {
				T Time `json:"t"`
			}
			require.NoError(t, json.Unmarshal(data, &back))
			assert.True(t, back.T.Equal(tt.time.Time))
		})
	}
}

func TestTime_UnmarshalJSONErrors(t *testing.T) {
	var tm Time
	require.NoError(t, tm.UnmarshalJSON([]byte(`""`)))
	assert.True(t, tm.IsZero())

	assert.Error(t, tm.UnmarshalJSON([]byte(`"yesterday"`)))
	assert.Error(t, tm.UnmarshalJSON([]byte(`42`)))
}

func TestTime_YAML(t *testing.T) {
	type doc struct {
		Name string `yaml:"name"`
		T    Time   `yaml:"t"`
	}

	data, err := yaml.Marshal(doc{Name: "vm1"})
	require.NoError(t, err)
	assert.Contains(t, string(data), "t: null")

	at := time.Date(2025, 11, 3, 10, 30, 0, 0, time.UTC)
	data, err = yaml.Marshal(doc{Name: "vm1", T: Time{Time: at}})
	require.NoError(t, err)
	assert.Contains(t, string(data), "2025-11-03T10:30:00Z")

	var back doc
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.True(t, back.T.Equal(at))

	require.NoError(t, yaml.Unmarshal([]byte("name: vm1\nt: null\n"), &back))
	assert.True(t, back.T.IsZero())

	err = yaml.Unmarshal([]byte("t: not-a-time\n"), &back)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not-a-time"))
}

func TestUsageSample_SampledAtThroughDomain(t *testing.T) {
	at := time.Date(2025, 11, 3, 10, 30, 0, 0, time.UTC)
	d := NewDomain(Key{Scope: ScopeSystem, Path: "/org/libvirt/QEMU/domain/_a"})
	d.Usage.SampledAt = Time{Time: at}

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sampledAt":"2025-11-03T10:30:00Z"`)

	cp := d.DeepCopy()
	cp.Usage.SampledAt = Time{}
	assert.True(t, d.Usage.SampledAt.Equal(at), "copies do not share the sample")
}
