package coupon_test

import (
	"encoding/json"
	"testing"

	"github.com/tolelom/loopcore/core"
	"github.com/tolelom/loopcore/executor"
	"github.com/tolelom/loopcore/executor/coupon"
)

func setup() (*executor.Executor, func(method string, params any) (*core.InvokeResult, error)) {
	reg := executor.NewRegistry()
	coupon.NewStore().Register(reg)
	e := executor.New(reg)

	invoke := func(method string, params any) (*core.InvokeResult, error) {
		paramsJSON, _ := json.Marshal(params)
		data, _ := json.Marshal(map[string]any{"method": method, "params": json.RawMessage(paramsJSON)})
		tx := &core.Transaction{TxHash: "tx", Data: data}
		return e.Invoke(tx, nil)
	}
	return e, invoke
}

func TestCouponLifecycle(t *testing.T) {
	_, invoke := setup()

	createResult, err := invoke("create", map[string]string{})
	if err != nil || !createResult.Success {
		t.Fatalf("create failed: err=%v success=%v msg=%s", err, createResult.Success, createResult.Error)
	}
	var created coupon.Coupon
	if err := json.Unmarshal(createResult.Data, &created); err != nil {
		t.Fatalf("decode created coupon: %v", err)
	}
	if created.Status != coupon.StatusCreated {
		t.Fatalf("expected status created, got %s", created.Status)
	}

	buyResult, err := invoke("buy", map[string]string{"coupon_code": created.Code, "buyer": "alice"})
	if err != nil || !buyResult.Success {
		t.Fatalf("buy failed: err=%v success=%v msg=%s", err, buyResult.Success, buyResult.Error)
	}

	useResult, err := invoke("use", map[string]string{"coupon_code": created.Code, "owner": "alice"})
	if err != nil || !useResult.Success {
		t.Fatalf("use failed: err=%v success=%v msg=%s", err, useResult.Success, useResult.Error)
	}
	var used coupon.Coupon
	if err := json.Unmarshal(useResult.Data, &used); err != nil {
		t.Fatalf("decode used coupon: %v", err)
	}
	if used.Status != coupon.StatusUsed {
		t.Fatalf("expected status used, got %s", used.Status)
	}
}

func TestCouponUseRejectsWrongOwner(t *testing.T) {
	_, invoke := setup()

	createResult, _ := invoke("create", map[string]string{})
	var created coupon.Coupon
	json.Unmarshal(createResult.Data, &created)

	invoke("buy", map[string]string{"coupon_code": created.Code, "buyer": "alice"})
	useResult, err := invoke("use", map[string]string{"coupon_code": created.Code, "owner": "mallory"})
	if err != nil {
		t.Fatalf("Invoke should not return a Go error: %v", err)
	}
	if useResult.Success {
		t.Fatal("expected use by a non-owner to fail")
	}
	if useResult.Error == "" {
		t.Fatal("expected an error message explaining the rejection")
	}
}

func TestCouponBuyRejectsAlreadySold(t *testing.T) {
	_, invoke := setup()

	createResult, _ := invoke("create", map[string]string{})
	var created coupon.Coupon
	json.Unmarshal(createResult.Data, &created)

	invoke("buy", map[string]string{"coupon_code": created.Code, "buyer": "alice"})
	secondBuy, err := invoke("buy", map[string]string{"coupon_code": created.Code, "buyer": "bob"})
	if err != nil {
		t.Fatalf("Invoke should not return a Go error: %v", err)
	}
	if secondBuy.Success {
		t.Fatal("expected a second buy on an already-sold coupon to fail")
	}
}

func TestCouponSendTransfersOwnership(t *testing.T) {
	_, invoke := setup()

	createResult, _ := invoke("create", map[string]string{})
	var created coupon.Coupon
	json.Unmarshal(createResult.Data, &created)
	invoke("buy", map[string]string{"coupon_code": created.Code, "buyer": "alice"})

	sendResult, err := invoke("send", map[string]string{"coupon_code": created.Code, "from": "alice", "to": "bob"})
	if err != nil || !sendResult.Success {
		t.Fatalf("send failed: err=%v success=%v msg=%s", err, sendResult.Success, sendResult.Error)
	}
	var sent coupon.Coupon
	json.Unmarshal(sendResult.Data, &sent)
	if sent.Owner != "bob" {
		t.Fatalf("expected owner bob after send, got %s", sent.Owner)
	}
}

func TestCouponGetInfoUnknownCode(t *testing.T) {
	_, invoke := setup()
	result, err := invoke("get_coupon_info", map[string]string{"coupon_code": "nonexistent"})
	if err != nil {
		t.Fatalf("Invoke should not return a Go error: %v", err)
	}
	if result.Success {
		t.Fatal("expected lookup of an unknown coupon code to fail")
	}
}
