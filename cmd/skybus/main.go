// Package main implements the command line client: list, read and change
// properties on a running server.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openastro/skybus/internal/adapters/tcpjson"
	"github.com/openastro/skybus/pkg/property"
)

var (
	flagHost    string
	flagTimeout time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "skybus",
		Short:         "Command line client for skybus servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagHost, "host", "H", "localhost:7624",
		"server address")
	root.PersistentFlags().DurationVarP(&flagTimeout, "timeout", "t", 2*time.Second,
		"how long to wait for server replies")

	root.AddCommand(listCmd(), getCmd(), setCmd(), getStateCmd(), listStateCmd(), setScriptCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "skybus:", err)
		os.Exit(1)
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [DEVICE[.PROPERTY]]",
		Short: "List properties and their items",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			device, prop := "", ""
			if len(args) == 1 {
				device = args[0]
				if d, p, err := parsePropRef(args[0]); err == nil {
					device, prop = d, p
				}
			}
			s, err := dial(flagHost, flagTimeout)
			if err != nil {
				return err
			}
			defer s.close()

			props, err := s.collect(device, prop)
			if err != nil {
				return err
			}
			for _, p := range props {
				for _, it := range p.Items {
					fmt.Printf("%s.%s.%s = %s\n", p.Device, p.Name, it.Name, itemValue(p, it))
				}
			}
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get DEVICE.PROPERTY.ITEM[;ITEM]...",
		Short: "Print item values",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var refs []itemRef
			for _, arg := range args {
				parts := strings.Split(arg, ";")
				ref, err := parseRef(parts[0], false)
				if err != nil {
					return err
				}
				refs = append(refs, ref)
				for _, item := range parts[1:] {
					if item == "" {
						return fmt.Errorf("empty item name in %q", arg)
					}
					refs = append(refs, itemRef{device: ref.device, prop: ref.prop, item: item})
				}
			}
			s, err := dial(flagHost, flagTimeout)
			if err != nil {
				return err
			}
			defer s.close()

			// One enumeration per addressed property.
			collected := make(map[string][]*property.Property)
			for _, ref := range refs {
				key := ref.device + "\x00" + ref.prop
				props, ok := collected[key]
				if !ok {
					props, err = s.collect(ref.device, ref.prop)
					if err != nil {
						return err
					}
					collected[key] = props
				}
				it, p := findItem(props, ref)
				if it == nil {
					return fmt.Errorf("no such item: %s.%s.%s", ref.device, ref.prop, ref.item)
				}
				fmt.Println(itemValue(p, it))
			}
			return nil
		},
	}
}

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set DEVICE.PROPERTY.ITEM=VALUE[;ITEM=VALUE]...",
		Short: "Change item values and wait for the result",
		Long: "All assignments must address the same property; they are submitted\n" +
			"as one change request.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refs, err := expandAssignments(args)
			if err != nil {
				return err
			}
			for _, ref := range refs[1:] {
				if ref.device != refs[0].device || ref.prop != refs[0].prop {
					return fmt.Errorf("all assignments must address %s.%s",
						refs[0].device, refs[0].prop)
				}
			}

			s, err := dial(flagHost, flagTimeout)
			if err != nil {
				return err
			}
			defer s.close()

			props, err := s.collect(refs[0].device, refs[0].prop)
			if err != nil {
				return err
			}
			if len(props) == 0 {
				return fmt.Errorf("no such property: %s.%s", refs[0].device, refs[0].prop)
			}
			defined := props[0]
			if defined.Perm == property.PermRO {
				return fmt.Errorf("%s.%s is read only", defined.Device, defined.Name)
			}

			req := &property.Property{
				Device: defined.Device,
				Name:   defined.Name,
				Type:   defined.Type,
				Perm:   defined.Perm,
				Rule:   defined.Rule,
			}
			for _, ref := range refs {
				req.Resize(req.Count() + 1)
				it := req.Items[req.Count()-1]
				it.Name = ref.item
				if err := applyValue(req, it, ref.value); err != nil {
					return err
				}
			}
			if err := s.send(&tcpjson.Envelope{
				Op:       tcpjson.OpChange,
				Device:   req.Device,
				Property: req,
			}); err != nil {
				return err
			}

			final, err := s.await(defined.Device, defined.Name)
			if err != nil {
				return err
			}
			if final == nil {
				return fmt.Errorf("no reply for %s.%s", defined.Device, defined.Name)
			}
			for _, it := range final.Items {
				fmt.Printf("%s.%s.%s = %s\n", final.Device, final.Name, it.Name, itemValue(final, it))
			}
			if final.State == property.StateAlert {
				return fmt.Errorf("change failed, property went to alert")
			}
			return nil
		},
	}
}

func getStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get_state DEVICE.PROPERTY",
		Aliases: []string{"state"},
		Short:   "Print a property's state",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			device, prop, err := parsePropRef(args[0])
			if err != nil {
				return err
			}
			s, err := dial(flagHost, flagTimeout)
			if err != nil {
				return err
			}
			defer s.close()

			props, err := s.collect(device, prop)
			if err != nil {
				return err
			}
			if len(props) == 0 {
				return fmt.Errorf("no such property: %s.%s", device, prop)
			}
			fmt.Println(props[0].State.String())
			return nil
		},
	}
}

func listStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list_state [DEVICE[.PROPERTY]]",
		Short: "List properties and their states",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			device, prop := "", ""
			if len(args) == 1 {
				device = args[0]
				if d, p, err := parsePropRef(args[0]); err == nil {
					device, prop = d, p
				}
			}
			s, err := dial(flagHost, flagTimeout)
			if err != nil {
				return err
			}
			defer s.close()

			props, err := s.collect(device, prop)
			if err != nil {
				return err
			}
			for _, p := range props {
				fmt.Printf("%s.%s = %s\n", p.Device, p.Name, p.State.String())
			}
			return nil
		},
	}
}

func setScriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set_script DEVICE.PROPERTY.ITEM=FILENAME",
		Short: "Change a text item to the contents of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0], true)
			if err != nil {
				return err
			}
			script, err := os.ReadFile(ref.value)
			if err != nil {
				return fmt.Errorf("failed to read script: %w", err)
			}

			s, err := dial(flagHost, flagTimeout)
			if err != nil {
				return err
			}
			defer s.close()

			props, err := s.collect(ref.device, ref.prop)
			if err != nil {
				return err
			}
			if len(props) == 0 {
				return fmt.Errorf("no such property: %s.%s", ref.device, ref.prop)
			}
			defined := props[0]
			if defined.Type != property.TypeText {
				return fmt.Errorf("%s.%s is not a text property", defined.Device, defined.Name)
			}

			req := &property.Property{
				Device: defined.Device,
				Name:   defined.Name,
				Type:   property.TypeText,
				Perm:   defined.Perm,
			}
			req.Resize(1)
			req.Items[0].Name = ref.item
			req.Items[0].SetText(string(script))
			if err := s.send(&tcpjson.Envelope{
				Op:       tcpjson.OpChange,
				Device:   req.Device,
				Property: req,
			}); err != nil {
				return err
			}

			final, err := s.await(defined.Device, defined.Name)
			if err != nil {
				return err
			}
			if final == nil {
				return fmt.Errorf("no reply for %s.%s", defined.Device, defined.Name)
			}
			fmt.Println(final.State.String())
			if final.State == property.StateAlert {
				return fmt.Errorf("change failed, property went to alert")
			}
			return nil
		},
	}
}

// expandAssignments parses set arguments, where additional items may be
// chained with semicolons: DEVICE.PROPERTY.ITEM=VALUE[;ITEM=VALUE...].
func expandAssignments(args []string) ([]itemRef, error) {
	var refs []itemRef
	for _, arg := range args {
		parts := strings.Split(arg, ";")
		ref, err := parseRef(parts[0], true)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
		for _, part := range parts[1:] {
			eq := strings.Index(part, "=")
			if eq <= 0 {
				return nil, fmt.Errorf("invalid assignment %q, expected ITEM=VALUE", part)
			}
			refs = append(refs, itemRef{
				device: ref.device,
				prop:   ref.prop,
				item:   part[:eq],
				value:  part[eq+1:],
				hasVal: true,
			})
		}
	}
	return refs, nil
}

func findItem(props []*property.Property, ref itemRef) (*property.Item, *property.Property) {
	for _, p := range props {
		if p.Device != ref.device || p.Name != ref.prop {
			continue
		}
		if it := p.ItemByName(ref.item); it != nil {
			return it, p
		}
	}
	return nil, nil
}
