package logger

import (
	"context"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/logging"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
)

// DefaultName はプロセス全体のロガー名
const DefaultName = "hello-pool"

// ParseLevel は文字列のログレベルを Priority に変換する
func ParseLevel(name string) (level.Priority, error) {
	if name == "" {
		return level.Info, nil
	}
	p := level.FromString(name)
	if p == level.Invalid {
		return level.Invalid, errors.Errorf("unknown log level '%s'", name)
	}
	return p, nil
}

// NewSender は標準出力に書き出すセンダーを作成する
func NewSender(name string, threshold level.Priority) (send.Sender, error) {
	if !threshold.IsValid() {
		return nil, errors.Errorf("invalid threshold %d", threshold)
	}
	sender, err := send.NewNativeLogger(name, send.LevelInfo{
		Default:   level.Info,
		Threshold: threshold,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating sender '%s'", name)
	}
	return sender, nil
}

// New は名前付きのジャーナラーを作成する
func New(name string, threshold level.Priority) (grip.Journaler, error) {
	sender, err := NewSender(name, threshold)
	if err != nil {
		return nil, err
	}
	return logging.MakeGrip(sender), nil
}

// Setup はプロセス全体のセンダーを設定する
func Setup(name string, threshold level.Priority) error {
	sender, err := NewSender(name, threshold)
	if err != nil {
		return err
	}
	return errors.Wrap(grip.SetSender(sender), "installing process sender")
}

// Default はプロセス全体のセンダーを使うジャーナラーを返す
func Default() grip.Journaler {
	return logging.MakeGrip(grip.GetSender())
}

// Or は j が nil の場合に Default を返す
func Or(j grip.Journaler) grip.Journaler {
	if j == nil {
		return Default()
	}
	return j
}

// discardSender はすべてのメッセージを捨てる
type discardSender struct {
	*send.Base
}

func (s *discardSender) Send(message.Composer)       {}
func (s *discardSender) Flush(context.Context) error { return nil }
func (s *discardSender) Close() error                { return nil }

// Discard は何も出力しないジャーナラーを返す
func Discard() grip.Journaler {
	return logging.MakeGrip(&discardSender{Base: send.NewBase(DefaultName)})
}
