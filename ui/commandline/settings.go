// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"encoding/json"
	"flag"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/nnlayers/types/xslices"
	"github.com/pkg/errors"
)

// ParseSettings from settings -- typically the contents of a flag set by the user.
// The settings are a list separated by ";": e.g.: "param1=value1;param2=value2;...".
//
// All the parameters "param1", "param2", etc. must be already set with default values
// in hyperparams. The default values are also used to set the type to which the
// string values will be parsed to.
//
// It updates hyperparams accordingly and returns the list of parameters set, or an error in case a
// parameter is unknown or the parsing failed.
//
// A setting can also be "file:<path>", in which case the settings are read from the file, one or more
// per line, and lines starting with "#" are ignored.
//
// For integer types, "_" is removed: it allows one to enter large numbers using it as a separator, like
// in Go. E.g.: 1_000_000 = 1000000.
//
// Example usage:
//
//	func main() {
//		hyperparams := map[string]any{"batch": 32, "filters": 16, "padding": "same"}
//		settings := commandline.CreateSettingsFlag(hyperparams, "")
//		flag.Parse()
//		paramsSet := must.M1(commandline.ParseSettings(hyperparams, *settings))
//		fmt.Println(commandline.SprintModifiedSettings(hyperparams, paramsSet))
//		...
//	}
func ParseSettings(hyperparams map[string]any, settings string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = parseSetting(hyperparams, strings.TrimSpace(setting), paramsSet)
		if err != nil {
			return
		}
	}
	return
}

func parseSetting(hyperparams map[string]any, setting string, paramsSet []string) (newParamsSet []string, err error) {
	newParamsSet = paramsSet
	if setting == "" {
		return
	}
	if filePath, found := strings.CutPrefix(setting, "file:"); found {
		return parseSettingsFile(hyperparams, filePath, newParamsSet)
	}

	paramName, valueStr, found := strings.Cut(setting, "=")
	if !found {
		err = errors.Errorf("can't parse settings %q: each setting requires the format \"<param>=<value>\"", setting)
		return
	}
	value, found := hyperparams[paramName]
	if !found {
		err = errors.Errorf("can't set parameter %q because it is not known, known parameters are %q",
			paramName, slices.Sorted(maps.Keys(hyperparams)))
		return
	}

	switch v := value.(type) {
	case int:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case int64:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case float64:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case float32:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case bool:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case string:
		value = valueStr
	case []string:
		value = strings.Split(valueStr, ",")
	case []int:
		value = xslices.Map(strings.Split(valueStr, ","), func(str string) int {
			var asInt int
			if newErr := json.Unmarshal([]byte(strings.ReplaceAll(str, "_", "")), &asInt); newErr != nil {
				err = newErr
			}
			return asInt
		})
	default:
		err = errors.Errorf("don't know how to parse type %T for setting parameter %q", value, setting)
	}
	if err != nil {
		err = errors.Wrapf(err, "failed to parse value %q for parameter %q (default value is %#v)",
			valueStr, paramName, hyperparams[paramName])
		return
	}
	hyperparams[paramName] = value
	newParamsSet = append(newParamsSet, paramName)
	return
}

func parseSettingsFile(hyperparams map[string]any, filePath string, paramsSet []string) ([]string, error) {
	if rest, found := strings.CutPrefix(filePath, "~"); found {
		home, err := os.UserHomeDir()
		if err != nil {
			return paramsSet, errors.Wrapf(err, "failed to find home directory to expand %q", filePath)
		}
		filePath = filepath.Join(home, rest)
	}
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return paramsSet, errors.Wrapf(err, "failed to read settings from file %q", filePath)
	}
	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paramsSet, err = ParseSettings(hyperparams, line)
		if err != nil {
			return paramsSet, errors.WithMessagef(err, "settings file %q", filePath)
		}
	}
	return paramsSet, nil
}

// CreateSettingsFlag create a string flag with the given flagName (if empty it will be named
// "set") and with a description of the parameters defined in hyperparams and their default values.
//
// The flag should be created before the call to `flags.Parse()`. See example in ParseSettings.
func CreateSettingsFlag(hyperparams map[string]any, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	parts := []string{
		`Set hyperparameters of the layer. ` +
			`It should be a list of elements "param=value" separated by ";". ` +
			`It can also be given an entry like: "file:settings_file.txt", in ` +
			`which case the file will be read and the settings will be parsed, ` +
			`with new-lines working as ";" to separate settings and lines starting with "#" are considered comments. ` +
			`Current available parameters that can be set:`,
	}
	for _, key := range slices.Sorted(maps.Keys(hyperparams)) {
		parts = append(parts, fmt.Sprintf("%q: default value is %v", key, hyperparams[key]))
	}
	var settings string
	flag.StringVar(&settings, flagName, "", strings.Join(parts, "\n"))
	return &settings
}

// SprintSettings pretty-prints all hyperparameters, sorted by name.
func SprintSettings(hyperparams map[string]any) string {
	parts := make([]string, 0, len(hyperparams))
	for _, key := range slices.Sorted(maps.Keys(hyperparams)) {
		value := hyperparams[key]
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %v", key, value, value))
	}
	return strings.Join(parts, "\n")
}

// SprintModifiedSettings pretty-prints only the hyperparameters in paramsSet, as returned by ParseSettings.
func SprintModifiedSettings(hyperparams map[string]any, paramsSet []string) string {
	paramsSet = slices.Clone(paramsSet)
	slices.Sort(paramsSet)
	paramsSet = slices.Compact(paramsSet)
	modified := make(map[string]any, len(paramsSet))
	for _, key := range paramsSet {
		if value, found := hyperparams[key]; found {
			modified[key] = value
		}
	}
	return SprintSettings(modified)
}
