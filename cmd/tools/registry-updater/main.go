// cmd/tools/registry-updater/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"dynamic-site-maker/internal/common/errors"
	"dynamic-site-maker/internal/common/validation"
	clp "dynamic-site-maker/internal/workers/landing-page/create-landing-page"
	flp "dynamic-site-maker/internal/workers/landing-page/find-landing-page"
	pu "dynamic-site-maker/internal/workers/landing-page/provision-username"
	rs "dynamic-site-maker/internal/workers/landing-page/resolve-submission"
	rt "dynamic-site-maker/internal/workers/landing-page/resolve-template"
	tt "dynamic-site-maker/internal/workers/landing-page/transform-template"
	ulp "dynamic-site-maker/internal/workers/landing-page/update-landing-page"
	"dynamic-site-maker/pkg/registry"
)

const category = "landing-page"

// catalog describes every worker this repository ships.
func catalog() []registry.Activity {
	return []registry.Activity{
		{
			ID:          rt.TaskType,
			DisplayName: "Resolve Template",
			Description: "Loads the configured Elementor template or the built-in fallback layout",
			TaskType:    rt.TaskType,
			ErrorCodes:  codes(errors.ErrCodeTimeout),
			Timeout:     "10s",
		},
		{
			ID:          rs.TaskType,
			DisplayName: "Resolve Submission",
			Description: "Builds the submission record used to fill template slots",
			TaskType:    rs.TaskType,
			ErrorCodes:  codes(errors.ErrCodeValidationFailed),
			Timeout:     "10s",
		},
		{
			ID:           tt.TaskType,
			DisplayName:  "Transform Template",
			Description:  "Rewrites template slots with submission values",
			TaskType:     tt.TaskType,
			InputSchema:  schemaMap(tt.GetInputSchema()),
			OutputSchema: schemaMap(tt.GetOutputSchema()),
			ErrorCodes:   codes(errors.ErrCodeValidationFailed, errors.ErrCodeMalformedTemplate),
			Timeout:      "10s",
		},
		{
			ID:          clp.TaskType,
			DisplayName: "Create Landing Page",
			Description: "Runs the full intake pipeline and publishes a new landing page",
			TaskType:    clp.TaskType,
			InputSchema: schemaMap(clp.GetInputSchema()),
			ErrorCodes: codes(errors.ErrCodeValidationFailed, errors.ErrCodeSubmissionThrottled,
				errors.ErrCodeProvisioningFailed, errors.ErrCodeUploadFailed, errors.ErrCodePersistenceFailed),
			Timeout: "60s",
			Retries: 3,
		},
		{
			ID:          ulp.TaskType,
			DisplayName: "Update Landing Page",
			Description: "Applies edited fields to an existing landing page and re-renders it",
			TaskType:    ulp.TaskType,
			InputSchema: schemaMap(ulp.GetInputSchema()),
			ErrorCodes: codes(errors.ErrCodeValidationFailed, errors.ErrCodePageNotFound,
				errors.ErrCodeNoChanges, errors.ErrCodePersistenceFailed),
			Timeout: "30s",
			Retries: 3,
		},
		{
			ID:          flp.TaskType,
			DisplayName: "Find Landing Page",
			Description: "Looks up a landing page by submitter email",
			TaskType:    flp.TaskType,
			InputSchema: schemaMap(flp.GetInputSchema()),
			ErrorCodes:  codes(errors.ErrCodeValidationFailed, errors.ErrCodePersistenceFailed),
			Timeout:     "5s",
		},
		{
			ID:          pu.TaskType,
			DisplayName: "Provision Username",
			Description: "Creates the submitter's account with the identity provisioning API",
			TaskType:    pu.TaskType,
			InputSchema: schemaMap(pu.GetInputSchema()),
			ErrorCodes:  codes(errors.ErrCodeValidationFailed, errors.ErrCodeProvisioningFailed),
			Timeout:     "2m",
			Retries:     3,
		},
	}
}

func main() {
	syncCmd := flag.NewFlagSet("sync", flag.ExitOnError)
	updateCmd := flag.NewFlagSet("update", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)

	var path string
	for _, fs := range []*flag.FlagSet{syncCmd, updateCmd, validateCmd} {
		fs.StringVar(&path, "path", "configs/activity-registry.json", "Path to registry file")
	}
	id := updateCmd.String("id", "", "Activity ID to update")
	field := updateCmd.String("field", "", "Field to update (status, version, timeout, retries)")
	value := updateCmd.String("value", "", "New value for the field")
	version := syncCmd.String("version", "1.0.0", "Version stamped on synced activities")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "sync":
		_ = syncCmd.Parse(os.Args[2:])
		err = syncRegistry(path, *version)
	case "update":
		_ = updateCmd.Parse(os.Args[2:])
		if *id == "" || *field == "" || *value == "" {
			fmt.Println("Error: id, field, and value are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		err = updateActivity(path, *id, *field, *value)
	case "validate":
		_ = validateCmd.Parse(os.Args[2:])
		err = validateRegistry(path)
	default:
		help()
		return
	}

	if err != nil {
		fmt.Printf("%s failed: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// syncRegistry writes the catalog into the registry, keeping the
// implementation status and workflows of entries that already exist.
func syncRegistry(path, version string) error {
	reg, err := registry.LoadRegistry(path)
	if os.IsNotExist(err) {
		reg = &registry.ActivityRegistry{Version: "1.0.0"}
	} else if err != nil {
		return err
	}

	for _, a := range catalog() {
		a.Category = category
		a.Version = version
		a.ImplementationStatus = registry.StatusCompleted
		if existing, ok := reg.Find(a.TaskType); ok {
			a.ImplementationStatus = existing.ImplementationStatus
			a.Workflows = existing.Workflows
			a.Tags = existing.Tags
		}
		reg.Upsert(a)
	}

	if err := registry.Save(reg, path); err != nil {
		return err
	}
	fmt.Printf("Synced %d activities into %s\n", len(catalog()), path)
	return nil
}

func updateActivity(path, id, field, value string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	a, ok := reg.Find(id)
	if !ok {
		return fmt.Errorf("activity with ID %s not found", id)
	}
	switch field {
	case "status":
		a.ImplementationStatus = value
	case "version":
		a.Version = value
	case "timeout":
		a.Timeout = value
	case "retries":
		retries, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid retries value: %w", err)
		}
		a.Retries = retries
	default:
		return fmt.Errorf("unknown field: %s", field)
	}

	if err := reg.Validate(); err != nil {
		return err
	}
	return registry.Save(reg, path)
}

func validateRegistry(path string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return err
	}

	var taskTypes []string
	for _, a := range catalog() {
		taskTypes = append(taskTypes, a.TaskType)
	}
	if missing := reg.Missing(taskTypes); len(missing) > 0 {
		return fmt.Errorf("registry has no entry for %v", missing)
	}

	fmt.Printf("Registry validation passed. Found %d activities.\n", len(reg.Activities))
	return nil
}

func schemaMap(s validation.JSONSchema) map[string]interface{} {
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	_ = json.Unmarshal(data, &out)
	return out
}

func codes(cs ...errors.ErrorCode) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

func help() {
	fmt.Println(`
Usage: registry-updater <command> [flags]

Commands:
  sync     Write every landing page worker into the registry
  update   Update an existing activity's field
  validate Validate the registry file and check every worker is listed
  help     Show this help message

Examples:
  registry-updater sync -path configs/activity-registry.json
  registry-updater update -id create-landing-page -field status -value verified
  registry-updater validate -path configs/activity-registry.json`)
}
