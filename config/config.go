// Package config defines the configuration of a graph SLAM run.
package config

import (
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/graphslam/services/graphslam/erd"
	"go.viam.com/graphslam/services/graphslam/nrd"
)

// Config describes one graph SLAM run over a recorded dataset.
type Config struct {
	ConfigFilePath string `json:"-"`

	// Dataset is the JSON lines event file to replay.
	Dataset string `json:"dataset"`
	// Snapshot, when set, is the sqlite database the final graph is saved to.
	Snapshot string `json:"snapshot,omitempty"`
	Debug    bool   `json:"debug,omitempty"`

	NodeRegistration nrd.Config `json:"node_registration"`
	// EdgeRegistration holds the edge registration decider's attributes.
	EdgeRegistration map[string]interface{} `json:"edge_registration,omitempty"`
	Metrics          *MetricsConfig         `json:"metrics,omitempty"`
}

// MetricsConfig enables writing edge counts as prometheus gauges to a textfile
// collector file at the end of the run.
type MetricsConfig struct {
	Namespace string `json:"namespace"`
	Textfile  string `json:"textfile"`
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Dataset == "" {
		return utils.NewConfigValidationFieldRequiredError("config", "dataset")
	}
	if err := c.NodeRegistration.Validate("node_registration"); err != nil {
		return err
	}
	if c.Metrics != nil {
		if c.Metrics.Namespace == "" {
			return utils.NewConfigValidationFieldRequiredError("metrics", "namespace")
		}
		if c.Metrics.Textfile == "" {
			return utils.NewConfigValidationFieldRequiredError("metrics", "textfile")
		}
	}
	_, err := c.EdgeRegistrationConfig()
	return err
}

// EdgeRegistrationConfig decodes the edge registration attributes. Images of 3D scans
// are looked up relative to the dataset.
func (c *Config) EdgeRegistrationConfig() (*erd.Config, error) {
	conf, err := erd.NewConfigFromAttributes("edge_registration", c.EdgeRegistration)
	if err != nil {
		return nil, errors.Wrap(err, "edge registration")
	}
	conf.DatasetPath = c.Dataset
	return conf, nil
}
