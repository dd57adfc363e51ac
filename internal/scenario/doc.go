// Package scenario はワーカープールに対する負荷シナリオ実行機能を提供する。
//
// シナリオエンジンはプールを構築し、Clientからタスクを投入し、
// 投入終了後にプールを停止して結果を集計する。停止は必ず
// 2段階（全ワーカーへの終了シグナル送信、その後の join）で行われる。
//
// # 機能
//
// - シナリオ定義と実行
// - 定義済みプリセットシナリオ
// - 実行結果のレポート生成
//
// # プリセットシナリオ
//
// - quick: 短時間の動作確認
// - burst: 大量の短いタスクを一気に投入
// - slow-worker: 1つの長いタスクと待機中のワーカーでの停止確認
// - panic: パニックするタスクを混ぜた実行
// - stress: 上限付きキューでの時間指定の高負荷
//
// # 使用例
//
//	config := scenario.SlowWorkerScenario()
//	engine := scenario.New(config)
//	result, err := engine.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Report())
package scenario
