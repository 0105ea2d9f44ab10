package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/cosim/cosim"
	"github.com/inference-sim/cosim/cosim/loopback"
)

// typesCmd lists the slave types the loopback transport hosts.
var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the built-in slave types",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		if err := listTypes(loopback.NewCluster(loopback.Options{}), os.Stdout); err != nil {
			logrus.Fatalf("listing slave types; %v", err)
		}
	},
}

type typeListing struct {
	Name        string            `yaml:"name"`
	UUID        string            `yaml:"uuid"`
	Description string            `yaml:"description,omitempty"`
	Providers   []string          `yaml:"providers"`
	Variables   []variableListing `yaml:"variables"`
}

type variableListing struct {
	ID          cosim.VariableID `yaml:"id"`
	Name        string           `yaml:"name"`
	Type        string           `yaml:"type"`
	Causality   string           `yaml:"causality"`
	Variability string           `yaml:"variability"`
}

func listTypes(cluster cosim.ProviderCluster, out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	types, err := cluster.SlaveTypes(ctx)
	if err != nil {
		return err
	}
	listings := make([]typeListing, 0, len(types))
	for _, st := range types {
		l := typeListing{
			Name:        st.Description.Name,
			UUID:        st.Description.UUID,
			Description: st.Description.Description,
			Providers:   st.Providers,
		}
		for _, v := range st.Description.Variables {
			l.Variables = append(l.Variables, variableListing{
				ID:          v.ID,
				Name:        v.Name,
				Type:        v.DataType.String(),
				Causality:   v.Causality.String(),
				Variability: v.Variability.String(),
			})
		}
		listings = append(listings, l)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(listings); err != nil {
		return fmt.Errorf("writing slave types: %w", err)
	}
	return enc.Close()
}

func init() {
	rootCmd.AddCommand(typesCmd)
}
