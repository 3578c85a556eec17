package rondb

import (
	"os"

	jsoniter "github.com/json-iterator/go"
)

// ConvertJSONFileToConfig opens a file.json and converts to RonDBConfig.
func ConvertJSONFileToConfig(fileNamePath string) (*RonDBConfig, error) {

	byteValue, err := os.ReadFile(fileNamePath)
	if err != nil {
		return nil, err
	}

	config := &RonDBConfig{}
	var json = jsoniter.ConfigFastest
	err = json.Unmarshal(byteValue, config)

	return config, err
}
