package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openzim/zimit-broker/internal/config"
	"github.com/openzim/zimit-broker/internal/tracker"
)

const digestKeyConfigKey = "tracker.digest_key"

var errInvalidIdentity = errors.New("identity is not valid for this key")

// newIdentityCommand groups the identity token helpers. The signing key comes
// from --digest-key or ZIMIT_TRACKER_DIGEST_KEY.
func newIdentityCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv(digestKeyConfigKey)

	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Generate and check caller identity tokens",
	}
	cmd.PersistentFlags().String("digest-key", "", "hex encoded signing key (default $ZIMIT_TRACKER_DIGEST_KEY)")
	_ = v.BindPFlag(digestKeyConfigKey, cmd.PersistentFlags().Lookup("digest-key"))

	cmd.AddCommand(newIdentityNewCommand(v))
	cmd.AddCommand(newIdentityCheckCommand(v))
	return cmd
}

func newIdentityNewCommand(v *viper.Viper) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:          "new",
		Short:        "Print new identity tokens",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count < 1 {
				return fmt.Errorf("count must be at least 1, got %d", count)
			}
			codec, err := identityCodec(v)
			if err != nil {
				return err
			}
			for i := 0; i < count; i++ {
				token, err := codec.Generate()
				if err != nil {
					return fmt.Errorf("failed to generate identity: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of tokens to generate")
	return cmd
}

func newIdentityCheckCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:          "check <token>",
		Short:        "Check that a token was signed with the key",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := identityCodec(v)
			if err != nil {
				return err
			}
			if !codec.Validate(strings.TrimSpace(args[0])) {
				return errInvalidIdentity
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}
}

func identityCodec(v *viper.Viper) (*tracker.IdentityCodec, error) {
	key := strings.TrimSpace(v.GetString(digestKeyConfigKey))
	if key == "" {
		return nil, fmt.Errorf("no digest key: set --digest-key or %s_TRACKER_DIGEST_KEY", config.EnvPrefix)
	}
	codec, err := tracker.NewIdentityCodecFromHex(key)
	if err != nil {
		return nil, fmt.Errorf("invalid digest key: %w", err)
	}
	return codec, nil
}
