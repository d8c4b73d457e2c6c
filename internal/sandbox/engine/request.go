package engine

// InitRequest is written as JSON to sandbox-init's stdin.
type InitRequest struct {
	// ScratchDir is the host directory holding the harness and user code.
	ScratchDir string   `json:"scratchDir"`
	RootFS     string   `json:"rootFS"`
	WorkDir    string   `json:"workDir"`
	Cmd        []string `json:"cmd"`
	Env        []string `json:"env"`
	Rlimits    Rlimits  `json:"rlimits"`
	// TmpfsSizeMB sizes the noexec /tmp mount.
	TmpfsSizeMB    int    `json:"tmpfsSizeMB"`
	SeccompProfile string `json:"seccompProfile"`
	EnableSeccomp  bool   `json:"enableSeccomp"`
	EnableNs       bool   `json:"enableNs"`
}

// Rlimits are applied by sandbox-init before exec. Zero leaves a limit unset.
type Rlimits struct {
	CPUSeconds uint64 `json:"cpuSeconds"`
	FileSizeMB uint64 `json:"fileSizeMB"`
	NoFile     uint64 `json:"noFile"`
}
