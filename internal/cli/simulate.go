package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"chainalerts/internal/app"
)

var (
	simulateSource    string
	simulateMetric    string
	simulatePrevious  float64
	simulateCurrent   float64
	simulateThreshold float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次指标变动并走完评估与通知流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSource == "" || simulateMetric == "" {
			return errors.New("--source 与 --metric 必须提供")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			SourceID:  simulateSource,
			Metric:    simulateMetric,
			Previous:  simulatePrevious,
			Current:   simulateCurrent,
			Threshold: simulateThreshold,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSource, "source", "", "数据源 ID")
	simulateCmd.Flags().StringVar(&simulateMetric, "metric", "", "指标键，例如 price:ETH")
	simulateCmd.Flags().Float64Var(&simulatePrevious, "previous", 0, "前值")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "现值")
	simulateCmd.Flags().Float64Var(&simulateThreshold, "threshold", 1, "临时规则的变动阈值（%），0 表示只评估已配置规则")
}
