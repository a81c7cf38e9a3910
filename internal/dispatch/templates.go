package dispatch

import (
	"fmt"

	"github.com/dmitrijs2005/wagate/internal/queue"
)

func otpEmail(purpose queue.OTPPurpose, code string) (subject, body string) {
	switch purpose {
	case queue.OTPRegister:
		return "Activate your account",
			fmt.Sprintf("Your OTP code is: %s. It will expire in 5 minutes. For new registration!", code)
	case queue.OTPLogin:
		return "Trying to Login!",
			fmt.Sprintf("Your OTP code is: %s. It will expire in 5 minutes. For Login!", code)
	case queue.OTPRemoveDevice:
		return "Trying to delete device!",
			fmt.Sprintf("Your OTP code is: %s. It will expire in 5 minutes. For device removal!", code)
	default:
		return "Your OTP code", fmt.Sprintf("Your OTP code is: %s. It will expire in 5 minutes.", code)
	}
}

func disconnectEmail(deviceName, phone string) (subject, body string) {
	return "Device disconnected",
		fmt.Sprintf("Your device %q (%s) has been disconnected from WhatsApp. "+
			"Open the dashboard and scan a new QR code to reconnect it.", deviceName, phone)
}
