package erd

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/graphslam/icp"
	"go.viam.com/graphslam/observation"
)

// Defaults for options left unset.
const (
	DefaultICPMaxDistance          = 10.0
	DefaultICPGoodnessThresh       = 0.75
	DefaultLCMinNodeIDDiff         = 30
	DefaultDatasetFailureThreshold = 20
)

// Config describes the edge registration decider. In a Config built in code a zero numeric
// option means unset. Options decoded by NewConfigFromAttributes keep explicit zeros.
type Config struct {
	// ICPMaxDistance is the radius in meters around a new node within which prior nodes are matched.
	ICPMaxDistance float64 `json:"icp_max_distance"`
	// ICPGoodnessThresh is the minimum goodness, inclusive, of an accepted match.
	ICPGoodnessThresh float64 `json:"icp_goodness_thresh"`
	// LCMinNodeIDDiff is the node id gap from which an accepted edge counts as a loop closure.
	LCMinNodeIDDiff int `json:"lc_min_nodeid_diff"`
	// DatasetFailureThreshold is the number of consecutive events without a range scan
	// after which the dataset is declared invalid.
	DatasetFailureThreshold int         `json:"dataset_invalid_failure_threshold"`
	ExternalImageDirectory  string      `json:"external_image_directory"`
	IncludeOrientation      bool        `json:"include_orientation"`
	ICP                     *icp.Config `json:"icp,omitempty"`

	// DatasetPath locates images of 3D scans. Set by the caller, not read from attributes.
	DatasetPath string `json:"-"`

	useExternalImageDir bool
	defaulted           bool
}

// NewConfigFromAttributes decodes an attribute map into a Config, fills in defaults and validates it.
// Defaults are set before decoding so options present in the map, zero or not, win.
func NewConfigFromAttributes(path string, attributes map[string]interface{}) (*Config, error) {
	conf := Config{
		ICPMaxDistance:          DefaultICPMaxDistance,
		ICPGoodnessThresh:       DefaultICPGoodnessThresh,
		LCMinNodeIDDiff:         DefaultLCMinNodeIDDiff,
		DatasetFailureThreshold: DefaultDatasetFailureThreshold,
		defaulted:               true,
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: &conf})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	if err := conf.Validate(path); err != nil {
		return nil, err
	}
	return &conf, nil
}

// ApplyDefaults sets every unset numeric option to its default and resolves whether the
// external image directory is used. Defaults are applied once; later calls only resolve the
// image directory.
func (config *Config) ApplyDefaults() {
	config.useExternalImageDir = observation.UseExternalImageDirectory(config.ExternalImageDirectory)
	if config.defaulted {
		return
	}
	config.defaulted = true
	if config.ICPMaxDistance == 0 {
		config.ICPMaxDistance = DefaultICPMaxDistance
	}
	if config.ICPGoodnessThresh == 0 {
		config.ICPGoodnessThresh = DefaultICPGoodnessThresh
	}
	if config.LCMinNodeIDDiff == 0 {
		config.LCMinNodeIDDiff = DefaultLCMinNodeIDDiff
	}
	if config.DatasetFailureThreshold == 0 {
		config.DatasetFailureThreshold = DefaultDatasetFailureThreshold
	}
}

// Validate applies defaults and checks the resulting values.
func (config *Config) Validate(path string) error {
	config.ApplyDefaults()
	if config.ICPMaxDistance < 0 {
		return utils.NewConfigValidationError(path, errors.New("icp_max_distance must not be negative"))
	}
	if config.ICPGoodnessThresh < 0 || config.ICPGoodnessThresh > 1 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("icp_goodness_thresh must be in [0, 1], got %v", config.ICPGoodnessThresh))
	}
	if config.LCMinNodeIDDiff < 0 {
		return utils.NewConfigValidationError(path, errors.New("lc_min_nodeid_diff must not be negative"))
	}
	if config.DatasetFailureThreshold < 1 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("dataset_invalid_failure_threshold must be at least 1, got %d", config.DatasetFailureThreshold))
	}
	return nil
}

// UseExternalImageDirectory reports whether 3D scan images are read from ExternalImageDirectory.
func (config *Config) UseExternalImageDirectory() bool {
	return config.useExternalImageDir
}
