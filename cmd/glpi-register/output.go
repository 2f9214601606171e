package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/breeze-rmm/glpi-register/internal/glpi"
	"github.com/breeze-rmm/glpi-register/internal/hardware"
	"github.com/breeze-rmm/glpi-register/internal/submission"
	"gopkg.in/yaml.v3"
)

// render writes v as JSON or YAML, or calls text with an aligned writer.
func render(out io.Writer, v any, text func(w io.Writer) error) error {
	switch outputFmt {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if err := text(tw); err != nil {
		return err
	}
	return tw.Flush()
}

type factsView struct {
	hardware.Facts `yaml:",inline"`
	Absent         []hardware.Field `json:"absent,omitempty" yaml:"absent,omitempty"`
}

func renderFacts(out io.Writer, f hardware.Facts) error {
	v := factsView{Facts: f, Absent: f.Absent()}
	return render(out, v, func(w io.Writer) error {
		fmt.Fprintf(w, "os\t%s\n", f.OS)
		for _, field := range hardware.Fields {
			fmt.Fprintf(w, "%s\t%s\n", field, factValue(f, field))
		}
		return nil
	})
}

func factValue(f hardware.Facts, field hardware.Field) string {
	if !f.Has(field) {
		return "-"
	}
	switch field {
	case hardware.FieldHostname:
		return f.Hostname
	case hardware.FieldOSVersion:
		return f.OSVersion
	case hardware.FieldManufacturer:
		return f.Manufacturer
	case hardware.FieldModel:
		return f.Model
	case hardware.FieldSerial:
		return f.Serial
	case hardware.FieldCPU:
		return f.CPU
	case hardware.FieldGPU:
		return strings.Join(f.GPUs, "; ")
	case hardware.FieldRAM:
		return hardware.RAMDescription(*f.RAMBytes)
	case hardware.FieldStorage:
		var disks []string
		for _, d := range f.Storage {
			disks = append(disks, hardware.StorageDescription(d))
		}
		return strings.Join(disks, "; ")
	}
	return ""
}

// assetView adds the browser link to an asset.
type assetView struct {
	glpi.ComputerAsset `yaml:",inline"`
	Link               string `json:"link,omitempty" yaml:"link,omitempty"`
}

func withLinks(assets *glpi.AssetClient, list []glpi.ComputerAsset) []assetView {
	views := make([]assetView, 0, len(list))
	for _, a := range list {
		link, _ := assets.ResourceLocator(a)
		views = append(views, assetView{ComputerAsset: a, Link: link})
	}
	return views
}

func renderAssets(out io.Writer, assets *glpi.AssetClient, list []glpi.ComputerAsset) error {
	views := withLinks(assets, list)
	return render(out, views, func(w io.Writer) error {
		if len(views) == 0 {
			fmt.Fprintln(w, "No matching computers.")
			return nil
		}
		writeAssetTable(w, views)
		return nil
	})
}

func writeAssetTable(w io.Writer, views []assetView) {
	fmt.Fprintln(w, "ID\tNAME\tSERIAL\tMANUFACTURER\tMODEL\tLOCATION\tLINK")
	for _, v := range views {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			v.ID, dash(v.Name), dash(v.Serial), dash(v.Manufacturer), dash(v.Model), dash(v.Location), dash(v.Link))
	}
}

func renderAsset(out io.Writer, a glpi.ComputerAsset) error {
	return render(out, a, func(w io.Writer) error {
		rows := [][2]string{
			{"name", a.Name},
			{"serial", a.Serial},
			{"manufacturer", a.Manufacturer},
			{"model", a.Model},
			{"location", a.Location},
			{"processor", a.Processor},
			{"graphic cards", strings.Join(a.GraphicCards, "; ")},
			{"memory", a.Memory},
			{"hard drives", strings.Join(a.HardDrives, "; ")},
			{"operating system", strings.TrimSpace(a.OperatingSystem + " " + a.OSVersion)},
			{"comment", a.Comment},
		}
		if a.Persisted() {
			rows = append([][2]string{{"id", strconv.Itoa(a.ID)}}, rows...)
		}
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\n", r[0], dash(r[1]))
		}
		return nil
	})
}

func renderSubmission(out io.Writer, assets *glpi.AssetClient, res submission.Result) error {
	type submissionView struct {
		Status     submission.Status     `json:"status" yaml:"status"`
		Asset      glpi.ComputerAsset    `json:"asset" yaml:"asset"`
		Locator    string                `json:"locator,omitempty" yaml:"locator,omitempty"`
		Matches    []assetView           `json:"matches,omitempty" yaml:"matches,omitempty"`
		Unresolved []glpi.UnresolvedName `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	}
	v := submissionView{
		Status:     res.Status,
		Asset:      res.Asset,
		Locator:    res.Locator,
		Matches:    withLinks(assets, res.Matches),
		Unresolved: res.Unresolved,
	}

	return render(out, v, func(w io.Writer) error {
		switch res.Status {
		case submission.StatusAlreadyExists:
			fmt.Fprintf(w, "Serial %s is already registered:\n\n", res.Asset.Serial)
			writeAssetTable(w, v.Matches)
			fmt.Fprintln(w, "\nRun again with --force to create another asset.")
		default:
			fmt.Fprintf(w, "Created computer %q with id %d.\n", res.Asset.Name, res.Asset.ID)
			fmt.Fprintf(w, "Open in GLPI: %s\n", res.Locator)
			if len(res.Unresolved) > 0 {
				fmt.Fprintln(w, "\nNot known to GLPI, left out of the record:")
				for _, u := range res.Unresolved {
					fmt.Fprintf(w, "  %s\t%s\n", u.ItemType, u.Name)
				}
			}
		}
		return nil
	})
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
