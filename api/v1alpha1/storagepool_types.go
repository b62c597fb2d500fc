package v1alpha1

// StoragePool is the mirrored state of one libvirt storage pool and its
// volumes.
type StoragePool struct {
	TypeMeta   `json:",inline" yaml:",inline"`
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Scope Scope  `json:"scope" yaml:"scope"`
	Path  string `json:"path" yaml:"path"`

	Active     bool `json:"active" yaml:"active"`
	Persistent bool `json:"persistent" yaml:"persistent"`
	Autostart  bool `json:"autostart" yaml:"autostart"`

	// Sizes in bytes as reported by virStoragePoolGetInfo.
	Capacity   uint64 `json:"capacity" yaml:"capacity"`
	Allocation uint64 `json:"allocation" yaml:"allocation"`
	Available  uint64 `json:"available" yaml:"available"`

	// +optional
	Config *StoragePoolConfig `json:"config,omitempty" yaml:"config,omitempty"`

	// Volumes are owned by the pool and are not keyed separately.
	// +optional
	Volumes []StorageVolume `json:"volumes,omitempty" yaml:"volumes,omitempty"`
}

// Key returns the store key of the pool.
func (p *StoragePool) Key() Key {
	return Key{Scope: p.Scope, Path: p.Path}
}

// Volume returns the named volume, or nil.
func (p *StoragePool) Volume(name string) *StorageVolume {
	for i := range p.Volumes {
		if p.Volumes[i].Name == name {
			return &p.Volumes[i]
		}
	}
	return nil
}

// StoragePoolConfig is the normalized form of a storage pool XML descriptor.
type StoragePoolConfig struct {
	Type         string `json:"type" yaml:"type"`
	TargetPath   string `json:"targetPath,omitempty" yaml:"targetPath,omitempty"`
	SourceHost   string `json:"sourceHost,omitempty" yaml:"sourceHost,omitempty"`
	SourceDir    string `json:"sourceDir,omitempty" yaml:"sourceDir,omitempty"`
	SourceDevice string `json:"sourceDevice,omitempty" yaml:"sourceDevice,omitempty"`
	SourceName   string `json:"sourceName,omitempty" yaml:"sourceName,omitempty"`
	SourceFormat string `json:"sourceFormat,omitempty" yaml:"sourceFormat,omitempty"`
}

// StorageVolume is one volume inside a storage pool.
type StorageVolume struct {
	Name       string `json:"name" yaml:"name"`
	Key        string `json:"key,omitempty" yaml:"key,omitempty"`
	Path       string `json:"path,omitempty" yaml:"path,omitempty"`
	Type       string `json:"type,omitempty" yaml:"type,omitempty"`
	Format     string `json:"format,omitempty" yaml:"format,omitempty"`
	Capacity   uint64 `json:"capacity" yaml:"capacity"`
	Allocation uint64 `json:"allocation" yaml:"allocation"`
}
