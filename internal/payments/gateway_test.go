package payments

import "testing"

func TestTransactionResponseSuccess(t *testing.T) {
	resp := &TransactionResponse{ResponseCode: ResponseCodeSuccess}
	if !resp.Success() {
		t.Fatalf("response code 0 must be success")
	}
	resp.ResponseCode = 5
	if resp.Success() {
		t.Fatalf("non-zero response code must not be success")
	}
}

func TestAmountReceivedMajor(t *testing.T) {
	cases := []struct {
		minor int64
		want  string
	}{
		{minor: 1248, want: "12.48"},
		{minor: 5, want: "0.05"},
		{minor: 1000, want: "10.00"},
		{minor: 0, want: "0.00"},
	}
	for _, tc := range cases {
		resp := &TransactionResponse{AmountReceived: tc.minor}
		if got := resp.AmountReceivedMajor(); got != tc.want {
			t.Fatalf("AmountReceivedMajor(%d) = %s, expected %s", tc.minor, got, tc.want)
		}
	}
}
